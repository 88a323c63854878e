// README: Entry point; loads config, picks the store driver, wires services, starts HTTP server and the stale-request sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"errand/internal/app"
	"errand/internal/config"
	httptransport "errand/internal/http"
	"errand/internal/infra"
	"errand/internal/memstore"
	"errand/internal/modules/matching"
	"errand/internal/modules/request"
	"errand/internal/modules/sweep"
	"errand/internal/observability"
	"errand/migrations"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := infra.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel init")
	}
	defer func() { _ = shutdownOTel(context.WithoutCancel(ctx)) }()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal().Msg("ERRAND_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("firebase init")
	}

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init")
	}
	var index request.PendingIndex
	if redisClient != nil {
		defer redisClient.Close()
		index = matching.NewStore(redisClient)
	}

	var (
		svc       *app.Services
		runSweeps func(context.Context)
	)
	switch cfg.Store {
	case config.StoreMemory:
		db := memstore.New()
		svc = app.Build(cfg, db, app.MemStores(db), index)
		runSweeps = func(ctx context.Context) { svc.Sweeper.RunEvery(ctx, cfg.Sweep.Interval) }
		log.Warn().Msg("using in-memory store; state is lost on exit")
	default:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres init")
		}
		defer pool.Close()
		if cfg.DB.Migrate {
			if err := migrations.Apply(ctx, pool); err != nil {
				log.Fatal().Err(err).Msg("migrate")
			}
		}
		svc = app.Build(cfg, infra.NewTxRunner(pool), app.PgStores(), index)
		runSweeps = riverSweeps(pool, svc.Sweeper, cfg.Sweep)
	}

	if index != nil {
		n, err := svc.Requests.RebuildPendingIndex(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("pending index rebuild failed; nearby search falls back to the database")
		} else {
			log.Info().Int("pending", n).Msg("pending index rebuilt")
		}
	}

	go runSweeps(ctx)

	router := httptransport.NewRouter(cfg, svc, verifier)
	if err := httptransport.NewServer(cfg.HTTP.Addr, router).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}

// riverSweeps runs the sweep as a river periodic job so only one API
// instance executes it per interval.
func riverSweeps(pool *pgxpool.Pool, sweeper *sweep.Sweeper, cfg config.SweepConfig) func(context.Context) {
	return func(ctx context.Context) {
		workers := river.NewWorkers()
		river.AddWorker(workers, sweep.NewWorker(sweeper))
		client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 2},
			},
			Workers:      workers,
			PeriodicJobs: []*river.PeriodicJob{sweep.PeriodicJob(cfg.Interval)},
		})
		if err != nil {
			log.Error().Err(err).Msg("river client")
			return
		}
		if err := client.Start(ctx); err != nil {
			log.Error().Err(err).Msg("river start")
			return
		}
		<-ctx.Done()
		if err := client.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("river stop")
		}
	}
}
