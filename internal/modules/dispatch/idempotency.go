// README: Accept idempotency records: keys are scoped per provider and replay the winning response.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/infra"
	"errand/internal/types"
)

const maxKeyLen = 200

type Record struct {
	Key        string
	RequestID  types.ID
	ProviderID types.ID
	Response   []byte
	CreatedAt  time.Time
}

type IdempotencyStore interface {
	// Get returns nil, nil when the provider never used the key.
	Get(ctx context.Context, tx pgx.Tx, providerID types.ID, key string) (*Record, error)
	Insert(ctx context.Context, tx pgx.Tx, rec *Record) error
}

type PgIdempotencyStore struct{}

func NewIdempotencyStore() *PgIdempotencyStore {
	return &PgIdempotencyStore{}
}

func (s *PgIdempotencyStore) Get(ctx context.Context, tx pgx.Tx, providerID types.ID, key string) (*Record, error) {
	var rec Record
	err := tx.QueryRow(ctx, `
		SELECT key, request_id, provider_id, response, created_at
		FROM accept_idempotency WHERE provider_id = $1 AND key = $2`, string(providerID), key,
	).Scan(&rec.Key, &rec.RequestID, &rec.ProviderID, &rec.Response, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert maps a duplicate key to ErrConcurrencyConflict: another transaction
// stored the key first, and a retry will replay its record.
func (s *PgIdempotencyStore) Insert(ctx context.Context, tx pgx.Tx, rec *Record) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO accept_idempotency (key, request_id, provider_id, response)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		rec.Key, string(rec.RequestID), string(rec.ProviderID), string(rec.Response),
	).Scan(&rec.CreatedAt)
	if infra.IsUniqueViolation(err, "") {
		return fmt.Errorf("idempotency key %q for provider %s: %w", rec.Key, rec.ProviderID, infra.ErrConcurrencyConflict)
	}
	return err
}
