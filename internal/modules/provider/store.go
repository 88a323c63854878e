// README: Provider availability store backed by PostgreSQL.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/types"
)

type Store interface {
	Get(ctx context.Context, tx pgx.Tx, id types.ID) (*Provider, error)
	Lock(ctx context.Context, tx pgx.Tx, id types.ID) (*Provider, error)
	// Upsert registers the provider on first contact and sets a non-busy status.
	Upsert(ctx context.Context, tx pgx.Tx, id types.ID, status Status, at time.Time) error
	// MarkBusy flips available -> busy for requestID; false when the provider was not available.
	MarkBusy(ctx context.Context, tx pgx.Tx, id, requestID types.ID, at time.Time) (bool, error)
	// MarkAvailable flips busy -> available only while the provider still holds requestID.
	MarkAvailable(ctx context.Context, tx pgx.Tx, id, requestID types.ID, at time.Time) (bool, error)
	Touch(ctx context.Context, tx pgx.Tx, id types.ID, at time.Time) (bool, error)
}

type PgStore struct{}

func NewStore() *PgStore {
	return &PgStore{}
}

const providerColumns = `id, status, current_request_id, last_seen_at, updated_at`

func (s *PgStore) Get(ctx context.Context, tx pgx.Tx, id types.ID) (*Provider, error) {
	return scanProvider(tx.QueryRow(ctx, `SELECT `+providerColumns+` FROM service_providers WHERE id = $1`, string(id)))
}

func (s *PgStore) Lock(ctx context.Context, tx pgx.Tx, id types.ID) (*Provider, error) {
	return scanProvider(tx.QueryRow(ctx, `SELECT `+providerColumns+` FROM service_providers WHERE id = $1 FOR UPDATE`, string(id)))
}

func (s *PgStore) Upsert(ctx context.Context, tx pgx.Tx, id types.ID, status Status, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO service_providers (id, status, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = EXCLUDED.updated_at
		WHERE service_providers.status <> 'busy'`,
		string(id), string(status), at,
	)
	return err
}

func (s *PgStore) MarkBusy(ctx context.Context, tx pgx.Tx, id, requestID types.ID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE service_providers
		SET status = 'busy', current_request_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'available'`,
		string(id), string(requestID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) MarkAvailable(ctx context.Context, tx pgx.Tx, id, requestID types.ID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE service_providers
		SET status = 'available', current_request_id = NULL, updated_at = $3
		WHERE id = $1 AND status = 'busy' AND current_request_id = $2`,
		string(id), string(requestID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) Touch(ctx context.Context, tx pgx.Tx, id types.ID, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `UPDATE service_providers SET last_seen_at = $2 WHERE id = $1`, string(id), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Status, &p.CurrentRequestID, &p.LastSeenAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
