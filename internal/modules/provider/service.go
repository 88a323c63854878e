// README: Provider service: self-service availability and heartbeat.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"errand/internal/infra"
	"errand/internal/modules/audit"
	"errand/internal/types"
)

type Service struct {
	runner infra.TxRunner
	store  Store
	audit  *audit.Writer
	now    func() time.Time
}

func NewService(runner infra.TxRunner, store Store, auditWriter *audit.Writer) *Service {
	return &Service{runner: runner, store: store, audit: auditWriter, now: time.Now}
}

type SetAvailabilityCommand struct {
	ProviderID types.ID
	Status     Status
	Actor      types.Actor
}

// SetAvailability switches a provider between available and offline. A busy
// provider cannot change status until its request is completed or cancelled.
func (s *Service) SetAvailability(ctx context.Context, cmd SetAvailabilityCommand) (*Provider, error) {
	if cmd.ProviderID == "" || (cmd.Status != StatusAvailable && cmd.Status != StatusOffline) {
		return nil, ErrInvalidStatus
	}
	var out *Provider
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		old := ""
		p, err := s.store.Lock(ctx, tx, cmd.ProviderID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case p.Status == StatusBusy:
			return ErrProviderBusy
		default:
			old = string(p.Status)
		}

		if err := s.store.Upsert(ctx, tx, cmd.ProviderID, cmd.Status, s.now()); err != nil {
			return err
		}
		if out, err = s.store.Get(ctx, tx, cmd.ProviderID); err != nil {
			return err
		}
		if old == string(cmd.Status) {
			return nil
		}
		return s.audit.Append(ctx, tx, &audit.Entry{
			EntityType:    audit.EntityProvider,
			EntityID:      cmd.ProviderID,
			OldStatus:     old,
			NewStatus:     string(cmd.Status),
			ChangedBy:     cmd.Actor.ID,
			ChangedByRole: cmd.Actor.Role,
			Reason:        "availability_update",
		})
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("provider_id", string(cmd.ProviderID)).Str("status", string(out.Status)).Msg("provider availability updated")
	return out, nil
}

func (s *Service) Heartbeat(ctx context.Context, providerID types.ID) (*Provider, error) {
	var out *Provider
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.store.Touch(ctx, tx, providerID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		out, err = s.store.Get(ctx, tx, providerID)
		return err
	})
	return out, err
}

func (s *Service) Get(ctx context.Context, providerID types.ID) (*Provider, error) {
	var out *Provider
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.store.Get(ctx, tx, providerID)
		return err
	})
	return out, err
}
