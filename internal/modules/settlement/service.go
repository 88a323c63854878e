// README: Settlement service: completes a request, settles escrow, frees the provider and awards loyalty points.
package settlement

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"errand/internal/infra"
	"errand/internal/modules/loyalty"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/wallet"
	"errand/internal/observability"
	"errand/internal/types"
)

var tracer = otel.Tracer("errand/settlement")

type Service struct {
	runner    infra.TxRunner
	requests  request.Store
	machine   *request.StateMachine
	ledger    *wallet.Ledger
	providers *provider.Availability
	loyalty   *loyalty.Awarder
	splitter  Splitter
}

func NewService(
	runner infra.TxRunner,
	requests request.Store,
	machine *request.StateMachine,
	ledger *wallet.Ledger,
	providers *provider.Availability,
	awarder *loyalty.Awarder,
	splitter Splitter,
) *Service {
	return &Service{
		runner:    runner,
		requests:  requests,
		machine:   machine,
		ledger:    ledger,
		providers: providers,
		loyalty:   awarder,
		splitter:  splitter,
	}
}

type CompleteCommand struct {
	RequestID types.ID
	// ActualFare defaults to the estimated fare when nil.
	ActualFare *decimal.Decimal
	Actor      types.Actor
}

type Result struct {
	Request       *request.Request `json:"request"`
	Split         Split            `json:"settlement"`
	Refund        decimal.Decimal  `json:"customer_refund"`
	Shortfall     decimal.Decimal  `json:"customer_shortfall"`
	PointsAwarded int64            `json:"points_awarded"`
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (_ *Result, err error) {
	ctx, span := tracer.Start(ctx, "settlement.Complete")
	span.SetAttributes(attribute.String("request.id", string(cmd.RequestID)))
	defer func() { observability.EndSpan(span, err) }()

	if cmd.ActualFare != nil && !types.Money(*cmd.ActualFare).IsPositive() {
		return nil, fmt.Errorf("%w: actual_fare must be positive", request.ErrBadRequest)
	}

	var out *Result
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
		if req.ProviderID == nil {
			return fmt.Errorf("%w: %s -> %s", request.ErrInvalidTransition, req.Status, request.StatusCompleted)
		}

		fare := req.EstimatedFare
		if cmd.ActualFare != nil {
			fare = *cmd.ActualFare
		}
		split := s.splitter.Split(fare)

		completed, err := s.machine.Advance(ctx, tx, req, request.StatusCompleted, request.Patch{
			ActualFare:       &split.ActualFare,
			PlatformFee:      &split.PlatformFee,
			ProviderEarnings: &split.ProviderEarnings,
		})
		if err != nil {
			return err
		}
		settled, err := s.ledger.Settle(ctx, tx, wallet.SettleCommand{
			RequestID:        req.ID,
			ProviderID:       *req.ProviderID,
			ActualFare:       split.ActualFare,
			ProviderEarnings: split.ProviderEarnings,
			PlatformFee:      split.PlatformFee,
		})
		if err != nil {
			return err
		}
		if _, err := s.providers.Release(ctx, tx, *req.ProviderID, req.ID); err != nil {
			return err
		}
		points, err := s.loyalty.Award(ctx, tx, req.CustomerID, req.ID, string(req.ServiceType), split.ActualFare)
		if err != nil {
			return err
		}
		if err := s.machine.Record(ctx, tx, completed, req.Status, cmd.Actor, "completed"); err != nil {
			return err
		}
		out = &Result{
			Request:       completed,
			Split:         split,
			Refund:        settled.Refund,
			Shortfall:     settled.Shortfall,
			PointsAwarded: points,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("request_id", string(out.Request.ID)).
		Str("tracking_id", out.Request.TrackingID).
		Str("actual_fare", out.Split.ActualFare.StringFixed(types.MoneyPlaces)).
		Str("platform_fee", out.Split.PlatformFee.StringFixed(types.MoneyPlaces)).
		Int64("points", out.PointsAwarded).
		Msg("request completed and settled")
	return out, nil
}

func authorize(req *request.Request, actor types.Actor) error {
	switch actor.Role {
	case types.RoleAdmin, types.RoleSystem:
		return nil
	case types.RoleProvider:
		if req.AssignedTo(actor.ID) {
			return nil
		}
	}
	return request.ErrForbidden
}
