// README: Shared Postgres fixture for DB-backed tests; skips when ERRAND_TEST_DSN is unset.
package testdb

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"errand/migrations"
)

const dsnEnv = "ERRAND_TEST_DSN"

var tables = []string{
	"accept_idempotency",
	"points_transactions",
	"user_loyalty",
	"status_audit_log",
	"wallet_transactions",
	"wallet_holds",
	"requests",
	"service_providers",
	"provider_wallets",
	"user_wallets",
}

// Open connects to ERRAND_TEST_DSN, applies migrations and truncates every domain table.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return pool
}
