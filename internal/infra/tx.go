// README: Serializable transaction runner with bounded retry on serialization failures.
package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrConcurrencyConflict is returned when a transaction lost an optimistic race
// (CAS miss, serialization failure, deadlock) on every attempt.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

const DefaultTxAttempts = 3

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
	sqlStateCheckViolation       = "23514"
)

// TxRunner runs fn inside one transaction. Stores receive the pgx.Tx and never
// open their own.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type PgRunner struct {
	pool     *pgxpool.Pool
	attempts int
}

func NewTxRunner(pool *pgxpool.Pool) *PgRunner {
	return &PgRunner{pool: pool, attempts: DefaultTxAttempts}
}

func (r *PgRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := r.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		zerolog.Ctx(ctx).Debug().Err(err).Int("attempt", attempt).Msg("retrying transaction")
	}
	return fmt.Errorf("%w: %v", ErrConcurrencyConflict, lastErr)
}

func (r *PgRunner) once(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsRetryable reports whether err came from a lost race that a fresh attempt can win.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrConcurrencyConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlStateUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateCheckViolation
}
