// README: Dispatch coordinator: resolves concurrent accepts of a pending request to exactly one provider.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"errand/internal/infra"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/observability"
	"errand/internal/types"
)

var tracer = otel.Tracer("errand/dispatch")

var (
	// ErrAlreadyAccepted is the loser's outcome: another provider won the request.
	ErrAlreadyAccepted     = errors.New("request already accepted")
	ErrIdempotencyMismatch = errors.New("idempotency key was already used by this provider for a different request")
	ErrInvalidKey          = errors.New("invalid idempotency key")
)

type Coordinator struct {
	runner    infra.TxRunner
	requests  request.Store
	machine   *request.StateMachine
	providers *provider.Availability
	keys      IdempotencyStore
	index     request.PendingIndex
}

func NewCoordinator(
	runner infra.TxRunner,
	requests request.Store,
	machine *request.StateMachine,
	providers *provider.Availability,
	keys IdempotencyStore,
	index request.PendingIndex,
) *Coordinator {
	return &Coordinator{
		runner:    runner,
		requests:  requests,
		machine:   machine,
		providers: providers,
		keys:      keys,
		index:     index,
	}
}

type AcceptCommand struct {
	RequestID      types.ID
	ProviderID     types.ID
	IdempotencyKey string
	Actor          types.Actor
}

type AcceptResult struct {
	Request  *request.Request
	Replayed bool
}

// Accept assigns the request to the provider. Of N concurrent accepts for
// one pending request exactly one commits; the rest get ErrAlreadyAccepted.
// Repeating a successful accept with the same idempotency key returns the
// original result without side effects.
func (c *Coordinator) Accept(ctx context.Context, cmd AcceptCommand) (_ *AcceptResult, err error) {
	ctx, span := tracer.Start(ctx, "dispatch.Accept")
	span.SetAttributes(
		attribute.String("request.id", string(cmd.RequestID)),
		attribute.String("provider.id", string(cmd.ProviderID)),
	)
	var res AcceptResult
	defer func() {
		acceptTotal.WithLabelValues(acceptResult(err, res.Replayed)).Inc()
		observability.EndSpan(span, err)
	}()

	if err := validateAccept(cmd); err != nil {
		return nil, err
	}

	err = c.runner.InTx(ctx, func(tx pgx.Tx) error {
		res = AcceptResult{}
		if cmd.IdempotencyKey != "" {
			rec, err := c.keys.Get(ctx, tx, cmd.ProviderID, cmd.IdempotencyKey)
			if err != nil {
				return err
			}
			if rec != nil {
				if rec.RequestID != cmd.RequestID {
					return ErrIdempotencyMismatch
				}
				var replay request.Request
				if err := json.Unmarshal(rec.Response, &replay); err != nil {
					return fmt.Errorf("decode idempotent response: %w", err)
				}
				res = AcceptResult{Request: &replay, Replayed: true}
				return nil
			}
		}

		req, err := c.requests.Lock(ctx, tx, cmd.RequestID)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return request.ErrAlreadyTerminal
		}
		if req.Status != request.StatusPending {
			return ErrAlreadyAccepted
		}

		providerID := cmd.ProviderID
		matched, err := c.machine.Advance(ctx, tx, req, request.StatusMatched, request.Patch{ProviderID: &providerID})
		if err != nil {
			return err
		}
		if err := c.providers.Claim(ctx, tx, cmd.ProviderID, cmd.RequestID); err != nil {
			return err
		}
		if cmd.IdempotencyKey != "" {
			body, err := json.Marshal(matched)
			if err != nil {
				return err
			}
			if err := c.keys.Insert(ctx, tx, &Record{
				Key:        cmd.IdempotencyKey,
				RequestID:  cmd.RequestID,
				ProviderID: cmd.ProviderID,
				Response:   body,
			}); err != nil {
				return err
			}
		}
		if err := c.machine.Record(ctx, tx, matched, req.Status, cmd.Actor, "accepted"); err != nil {
			return err
		}
		res = AcceptResult{Request: matched}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyAccepted) {
			zerolog.Ctx(ctx).Info().
				Str("request_id", string(cmd.RequestID)).
				Str("provider_id", string(cmd.ProviderID)).
				Msg("accept lost the race")
		}
		return nil, err
	}

	if res.Replayed {
		return &res, nil
	}
	zerolog.Ctx(ctx).Info().
		Str("request_id", string(res.Request.ID)).
		Str("tracking_id", res.Request.TrackingID).
		Str("provider_id", string(cmd.ProviderID)).
		Msg("request matched")
	if c.index != nil {
		if err := c.index.Remove(ctx, res.Request.ID, string(res.Request.ServiceType)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("request_id", string(res.Request.ID)).Msg("pending index remove failed")
		}
	}
	return &res, nil
}

func validateAccept(cmd AcceptCommand) error {
	if cmd.RequestID == "" || cmd.ProviderID == "" {
		return request.ErrBadRequest
	}
	if len(cmd.IdempotencyKey) > maxKeyLen {
		return ErrInvalidKey
	}
	switch cmd.Actor.Role {
	case types.RoleProvider:
		if cmd.Actor.ID != cmd.ProviderID {
			return request.ErrForbidden
		}
	case types.RoleAdmin, types.RoleSystem:
	default:
		return request.ErrForbidden
	}
	return nil
}
