// README: Cancellation service: refund, fee, provider release and audit in one transaction.
package cancellation

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"errand/internal/infra"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/wallet"
	"errand/internal/observability"
	"errand/internal/types"
)

var tracer = otel.Tracer("errand/cancellation")

type Service struct {
	runner    infra.TxRunner
	requests  request.Store
	machine   *request.StateMachine
	ledger    *wallet.Ledger
	providers *provider.Availability
	index     request.PendingIndex
	policy    Policy
}

func NewService(
	runner infra.TxRunner,
	requests request.Store,
	machine *request.StateMachine,
	ledger *wallet.Ledger,
	providers *provider.Availability,
	index request.PendingIndex,
	policy Policy,
) *Service {
	return &Service{
		runner:    runner,
		requests:  requests,
		machine:   machine,
		ledger:    ledger,
		providers: providers,
		index:     index,
		policy:    policy,
	}
}

type CancelCommand struct {
	RequestID types.ID
	Actor     types.Actor
	Reason    string
}

type Result struct {
	Request *request.Request `json:"request"`
	Refund  decimal.Decimal  `json:"refund"`
	Fee     decimal.Decimal  `json:"fee"`
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (_ *Result, err error) {
	ctx, span := tracer.Start(ctx, "cancellation.Cancel")
	span.SetAttributes(
		attribute.String("request.id", string(cmd.RequestID)),
		attribute.String("actor.role", string(cmd.Actor.Role)),
	)
	defer func() { observability.EndSpan(span, err) }()

	var out *Result
	var wasPending bool
	var feeRate decimal.Decimal
	err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.Lock(ctx, tx, cmd.RequestID)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return request.ErrAlreadyTerminal
		}
		if err := authorize(req, cmd.Actor); err != nil {
			return err
		}
		held, err := s.ledger.HeldFor(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		quote, err := s.policy.Quote(cmd.Actor.Role, req.Status, held)
		if err != nil {
			return err
		}

		actorID, role := cmd.Actor.ID, cmd.Actor.Role
		patch := request.Patch{
			CancelledBy:     &actorID,
			CancelledByRole: &role,
			CancellationFee: &quote.Fee,
		}
		if cmd.Reason != "" {
			reason := cmd.Reason
			patch.CancelReason = &reason
		}
		cancelled, err := s.machine.Advance(ctx, tx, req, request.StatusCancelled, patch)
		if err != nil {
			return err
		}
		released, err := s.ledger.ReleaseWithFee(ctx, tx, req.ID, quote.Fee)
		if err != nil {
			return err
		}
		if req.ProviderID != nil {
			if _, err := s.providers.Release(ctx, tx, *req.ProviderID, req.ID); err != nil {
				return err
			}
		}
		if err := s.machine.Record(ctx, tx, cancelled, req.Status, cmd.Actor, reasonOr(cmd.Reason, "cancelled")); err != nil {
			return err
		}
		wasPending = req.Status == request.StatusPending
		feeRate = quote.Rate
		out = &Result{Request: cancelled, Refund: released.Refund, Fee: released.Fee}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("request_id", string(out.Request.ID)).
		Str("tracking_id", out.Request.TrackingID).
		Str("cancelled_by_role", string(cmd.Actor.Role)).
		Str("refund", out.Refund.StringFixed(types.MoneyPlaces)).
		Str("fee", out.Fee.StringFixed(types.MoneyPlaces)).
		Str("fee_percent", types.Percent(feeRate).String()).
		Msg("request cancelled")
	if wasPending && s.index != nil {
		if err := s.index.Remove(ctx, out.Request.ID, string(out.Request.ServiceType)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("request_id", string(out.Request.ID)).Msg("pending index remove failed")
		}
	}
	return out, nil
}

func authorize(req *request.Request, actor types.Actor) error {
	switch actor.Role {
	case types.RoleAdmin, types.RoleSystem:
		return nil
	case types.RoleCustomer:
		if req.CustomerID == actor.ID {
			return nil
		}
	case types.RoleProvider:
		if req.AssignedTo(actor.ID) {
			return nil
		}
	}
	return request.ErrForbidden
}

func reasonOr(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}
