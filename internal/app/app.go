// README: Service graph wiring shared by the API binary and the end-to-end tests.
package app

import (
	"errand/internal/config"
	"errand/internal/infra"
	"errand/internal/memstore"
	"errand/internal/modules/audit"
	"errand/internal/modules/cancellation"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/loyalty"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/settlement"
	"errand/internal/modules/sweep"
	"errand/internal/modules/tracking"
	"errand/internal/modules/wallet"
)

type Stores struct {
	Wallets     wallet.Store
	Requests    request.Store
	Providers   provider.Store
	Audit       audit.Store
	Loyalty     loyalty.Store
	Idempotency dispatch.IdempotencyStore
}

func PgStores() Stores {
	return Stores{
		Wallets:     wallet.NewStore(),
		Requests:    request.NewStore(),
		Providers:   provider.NewStore(),
		Audit:       audit.NewStore(),
		Loyalty:     loyalty.NewStore(),
		Idempotency: dispatch.NewIdempotencyStore(),
	}
}

func MemStores(db *memstore.DB) Stores {
	return Stores{
		Wallets:     db.Wallets(),
		Requests:    db.Requests(),
		Providers:   db.Providers(),
		Audit:       db.Audit(),
		Loyalty:     db.Loyalty(),
		Idempotency: db.Idempotency(),
	}
}

type Services struct {
	Requests     *request.Service
	Dispatch     *dispatch.Coordinator
	Cancellation *cancellation.Service
	Settlement   *settlement.Service
	Providers    *provider.Service
	Wallets      *wallet.Service
	Loyalty      *loyalty.Service
	Sweeper      *sweep.Sweeper
}

// Build wires the services over one transaction runner. index may be nil.
func Build(cfg config.Config, runner infra.TxRunner, st Stores, index request.PendingIndex) *Services {
	auditWriter := audit.NewWriter(st.Audit)
	ledger := wallet.NewLedger(st.Wallets, cfg.Policy.Currency)
	machine := request.NewStateMachine(st.Requests, auditWriter)
	availability := provider.NewAvailability(st.Providers)
	awarder := loyalty.NewAwarder(st.Loyalty, cfg.Policy.PointsPerUnit)

	requests := request.NewService(request.Deps{
		Runner:  runner,
		Store:   st.Requests,
		Machine: machine,
		Ledger:  ledger,
		Audit:   auditWriter,
		IDs:     tracking.NewGenerator(),
		Index:   index,
		Defaults: request.SearchDefaults{
			RadiusKm: cfg.Matching.RadiusKm,
			Limit:    cfg.Matching.Limit,
		},
	})
	cancels := cancellation.NewService(runner, st.Requests, machine, ledger, availability, index,
		cancellation.NewPolicy(cfg.Policy.CancelFeeRate))

	return &Services{
		Requests:     requests,
		Dispatch:     dispatch.NewCoordinator(runner, st.Requests, machine, availability, st.Idempotency, index),
		Cancellation: cancels,
		Settlement: settlement.NewService(runner, st.Requests, machine, ledger, availability, awarder,
			settlement.NewSplitter(cfg.Policy.PlatformFeeRate)),
		Providers: provider.NewService(runner, st.Providers, auditWriter),
		Wallets:   wallet.NewService(runner, ledger),
		Loyalty:   loyalty.NewService(runner, awarder),
		Sweeper:   sweep.NewSweeper(runner, st.Requests, cancels, cfg.Sweep),
	}
}
