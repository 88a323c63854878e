// README: Bench cases: environment checks, lifecycle money checks, accept races and throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"errand/internal/app"
	"errand/internal/config"
	"errand/internal/infra"
	"errand/internal/memstore"
	"errand/internal/modules/cancellation"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/matching"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/settlement"
	"errand/internal/modules/wallet"
	"errand/internal/types"
	"errand/migrations"
)

var (
	admin   = types.Actor{ID: "bench-admin", Role: types.RoleAdmin}
	bangkok = types.Point{Lat: 13.7563, Lng: 100.5018}
)

type Runner struct {
	cfg   Config
	store string
	db    *pgxpool.Pool
	redis *redis.Client
	svc   *app.Services
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	appCfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, store: config.StoreMemory}

	if cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	var index request.PendingIndex
	if r.redis != nil {
		index = matching.NewStore(r.redis)
	}

	if cfg.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		r.db = pool
		r.store = config.StorePostgres
		r.svc = app.Build(appCfg, infra.NewTxRunner(pool), app.PgStores(), index)
		return r, nil
	}
	db := memstore.New()
	r.svc = app.Build(appCfg, db, app.MemStores(db), index)
	return r, nil
}

func (r *Runner) Close() {
	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		results = append(results, res)
		fmt.Printf("%-7s %s (%s)", res.Status, tc.Name, res.Latency.Round(time.Microsecond))
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "in-memory store"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return fail(err)
				}
				return pass("")
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "pending index reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return fail(err)
				}
				return pass("")
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "schema and river tables",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration || r.db == nil {
					return Result{Status: "SKIP", Note: "apply-migration=false or no database"}
				}
				if err := migrations.Apply(ctx, r.db); err != nil {
					return fail(err)
				}
				return pass("")
			},
		},
		{Name: "Escrow: create holds the estimated fare", Focus: "escrow atomicity", Run: escrowOnCreate},
		{Name: "Dispatch: concurrent accepts have one winner", Focus: "race safety", Run: acceptRace},
		{Name: "Cancel: customer fee after match", Focus: "refund grid", Run: cancelAfterMatch},
		{Name: "Settle: split and loyalty points", Focus: "settlement", Run: settleRide},
		{Name: "Perf: create/accept/complete throughput", Focus: "throughput", Run: perfLifecycle},
	}
}

func escrowOnCreate(ctx context.Context, r *Runner) Result {
	cust, err := r.customer(ctx, "200")
	if err != nil {
		return fail(err)
	}
	if _, err := r.create(ctx, cust, "150"); err != nil {
		return fail(err)
	}
	if _, err := r.create(ctx, cust, "60"); !errors.Is(err, wallet.ErrInsufficientBalance) {
		return failf("second hold: want insufficient balance, got %v", err)
	}
	return r.expectWallet(ctx, cust, "50", "150")
}

func acceptRace(ctx context.Context, r *Runner) Result {
	cust, err := r.customer(ctx, "200")
	if err != nil {
		return fail(err)
	}
	req, err := r.create(ctx, cust, "150")
	if err != nil {
		return fail(err)
	}
	providers := make([]types.ID, r.cfg.Concurrency)
	for i := range providers {
		if providers[i], err = r.provider(ctx); err != nil {
			return fail(err)
		}
	}

	var (
		wg      sync.WaitGroup
		winners atomic.Int64
		losers  atomic.Int64
		other   atomic.Int64
		start   = make(chan struct{})
	)
	for _, p := range providers {
		wg.Add(1)
		go func(p types.ID) {
			defer wg.Done()
			<-start
			_, err := r.svc.Dispatch.Accept(ctx, dispatch.AcceptCommand{
				RequestID: req.ID, ProviderID: p, Actor: types.Actor{ID: p, Role: types.RoleProvider},
			})
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, dispatch.ErrAlreadyAccepted), errors.Is(err, infra.ErrConcurrencyConflict):
				losers.Add(1)
			default:
				other.Add(1)
			}
		}(p)
	}
	began := time.Now()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("providers=%d success=%d lost=%d other=%d", len(providers), winners.Load(), losers.Load(), other.Load())
	if winners.Load() != 1 || other.Load() != 0 {
		return Result{Status: "FAIL", Latency: time.Since(began), Note: note}
	}
	return Result{Status: "PASS", Latency: time.Since(began), Note: note}
}

func cancelAfterMatch(ctx context.Context, r *Runner) Result {
	cust, err := r.customer(ctx, "200")
	if err != nil {
		return fail(err)
	}
	req, err := r.matched(ctx, cust, "150")
	if err != nil {
		return fail(err)
	}
	res, err := r.svc.Cancellation.Cancel(ctx, cancellation.CancelCommand{
		RequestID: req.ID, Actor: types.Actor{ID: cust, Role: types.RoleCustomer}, Reason: "bench",
	})
	if err != nil {
		return fail(err)
	}
	if !res.Fee.Equal(decimal.NewFromInt(30)) || !res.Refund.Equal(decimal.NewFromInt(120)) {
		return failf("fee=%s refund=%s, want 30/120", res.Fee, res.Refund)
	}
	return r.expectWallet(ctx, cust, "170", "0")
}

func settleRide(ctx context.Context, r *Runner) Result {
	cust, err := r.customer(ctx, "200")
	if err != nil {
		return fail(err)
	}
	req, err := r.matched(ctx, cust, "150")
	if err != nil {
		return fail(err)
	}
	res, err := r.svc.Settlement.Complete(ctx, settlement.CompleteCommand{RequestID: req.ID, Actor: admin})
	if err != nil {
		return fail(err)
	}
	if !res.Split.PlatformFee.Equal(decimal.NewFromInt(30)) || !res.Split.ProviderEarnings.Equal(decimal.NewFromInt(120)) {
		return failf("split %s/%s, want 30/120", res.Split.PlatformFee, res.Split.ProviderEarnings)
	}
	if res.PointsAwarded != 15 {
		return failf("points %d, want 15", res.PointsAwarded)
	}
	return r.expectWallet(ctx, cust, "50", "0")
}

func perfLifecycle(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cust, err := r.customer(ctx, "1000000")
			if err != nil {
				errCount.Add(1)
				return
			}
			for time.Now().Before(end) && ctx.Err() == nil {
				req, err := r.matched(ctx, cust, "25")
				if err == nil {
					_, err = r.svc.Settlement.Complete(ctx, settlement.CompleteCommand{RequestID: req.ID, Actor: admin})
				}
				if err != nil {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("no lifecycles completed errors=%d", errCount.Load())}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Latency: r.cfg.Duration, Note: fmt.Sprintf("lifecycles/s=%.1f errors=%d", rps, errCount.Load())}
}

func (r *Runner) customer(ctx context.Context, balance string) (types.ID, error) {
	id := types.ID("bench-c-" + uuid.NewString()[:8])
	_, err := r.svc.Wallets.Open(ctx, wallet.OpenCommand{UserID: id, Balance: types.MustMoney(balance), Actor: admin})
	return id, err
}

func (r *Runner) provider(ctx context.Context) (types.ID, error) {
	id := types.ID("bench-p-" + uuid.NewString()[:8])
	_, err := r.svc.Providers.SetAvailability(ctx, provider.SetAvailabilityCommand{
		ProviderID: id, Status: provider.StatusAvailable, Actor: types.Actor{ID: id, Role: types.RoleProvider},
	})
	return id, err
}

func (r *Runner) create(ctx context.Context, cust types.ID, fare string) (*request.Request, error) {
	return r.svc.Requests.Create(ctx, request.CreateCommand{
		CustomerID:    cust,
		ServiceType:   request.ServiceRide,
		Pickup:        bangkok,
		EstimatedFare: types.MustMoney(fare),
		Actor:         types.Actor{ID: cust, Role: types.RoleCustomer},
	})
}

func (r *Runner) matched(ctx context.Context, cust types.ID, fare string) (*request.Request, error) {
	req, err := r.create(ctx, cust, fare)
	if err != nil {
		return nil, err
	}
	p, err := r.provider(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.svc.Dispatch.Accept(ctx, dispatch.AcceptCommand{
		RequestID: req.ID, ProviderID: p, Actor: types.Actor{ID: p, Role: types.RoleProvider},
	})
	if err != nil {
		return nil, err
	}
	return res.Request, nil
}

func (r *Runner) expectWallet(ctx context.Context, cust types.ID, balance, held string) Result {
	w, err := r.svc.Wallets.Mine(ctx, types.Actor{ID: cust, Role: types.RoleCustomer})
	if err != nil {
		return fail(err)
	}
	if !w.Balance.Equal(types.MustMoney(balance)) || !w.HeldBalance.Equal(types.MustMoney(held)) {
		return failf("wallet %s/%s, want %s/%s", w.Balance, w.HeldBalance, balance, held)
	}
	return pass(fmt.Sprintf("balance=%s held=%s", w.Balance, w.HeldBalance))
}

func pass(note string) Result { return Result{Status: "PASS", Note: note} }

func fail(err error) Result { return Result{Status: "FAIL", Note: err.Error()} }

func failf(format string, args ...any) Result {
	return Result{Status: "FAIL", Note: fmt.Sprintf(format, args...)}
}
