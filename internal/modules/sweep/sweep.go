// README: Stale-request sweep: cancels abandoned pending requests and requests whose provider went silent.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"errand/internal/config"
	"errand/internal/infra"
	"errand/internal/modules/cancellation"
	"errand/internal/modules/request"
	"errand/internal/types"
)

const (
	batchSize = 100

	ReasonPendingExpired       = "pending_expired"
	ReasonProviderUnresponsive = "provider_unresponsive"
)

// SystemActor is the identity recorded on sweep cancellations.
var SystemActor = types.Actor{ID: "system:sweep", Role: types.RoleSystem}

type Canceller interface {
	Cancel(ctx context.Context, cmd cancellation.CancelCommand) (*cancellation.Result, error)
}

type Summary struct {
	Scanned   int
	Cancelled int
	Failed    int
}

type Sweeper struct {
	runner   infra.TxRunner
	requests request.Store
	cancels  Canceller
	cfg      config.SweepConfig
	now      func() time.Time
}

func NewSweeper(runner infra.TxRunner, requests request.Store, cancels Canceller, cfg config.SweepConfig) *Sweeper {
	return &Sweeper{runner: runner, requests: requests, cancels: cancels, cfg: cfg, now: time.Now}
}

// Run cancels one batch of stale requests. Each cancellation is its own
// transaction; a request that moved on since the scan is skipped.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	now := s.now()
	var stale []request.Request
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		ids, err := s.requests.ListStale(ctx, tx, now.Add(-s.cfg.PendingTTL), now.Add(-s.cfg.ProviderStaleAfter), batchSize)
		if err != nil {
			return err
		}
		stale = stale[:0]
		for _, id := range ids {
			req, err := s.requests.Get(ctx, tx, id)
			if err != nil {
				return err
			}
			stale = append(stale, *req)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Scanned: len(stale)}
	log := zerolog.Ctx(ctx)
	for _, req := range stale {
		reason := ReasonProviderUnresponsive
		if req.Status == request.StatusPending {
			reason = ReasonPendingExpired
		}
		_, err := s.cancels.Cancel(ctx, cancellation.CancelCommand{
			RequestID: req.ID,
			Actor:     SystemActor,
			Reason:    reason,
		})
		switch {
		case err == nil:
			sum.Cancelled++
		case errors.Is(err, request.ErrAlreadyTerminal), errors.Is(err, infra.ErrConcurrencyConflict):
		default:
			sum.Failed++
			log.Error().Err(err).Str("request_id", string(req.ID)).Msg("sweep cancel failed")
		}
	}
	if sum.Scanned > 0 {
		log.Info().Int("scanned", sum.Scanned).Int("cancelled", sum.Cancelled).Int("failed", sum.Failed).Msg("stale request sweep")
	}
	return sum, nil
}

// RunEvery runs the sweep on a ticker until ctx is done. Used when no job
// queue is available.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("stale request sweep failed")
			}
		}
	}
}
