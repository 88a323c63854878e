// README: Audit store backed by PostgreSQL; rows are insert-only.
package audit

import (
	"context"

	"github.com/jackc/pgx/v5"

	"errand/internal/types"
)

type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, e *Entry) error
	List(ctx context.Context, tx pgx.Tx, entityType string, entityID types.ID) ([]Entry, error)
}

type PgStore struct{}

func NewStore() *PgStore {
	return &PgStore{}
}

// Insert stamps created_at with clock_timestamp() so the row time tracks the
// moment the statement ran, not the start of the transaction.
func (s *PgStore) Insert(ctx context.Context, tx pgx.Tx, e *Entry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO status_audit_log (
			entity_type, entity_id, tracking_id, old_status, new_status,
			changed_by, changed_by_role, reason, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, clock_timestamp())
		RETURNING id, created_at`,
		e.EntityType,
		string(e.EntityID),
		e.TrackingID,
		e.OldStatus,
		e.NewStatus,
		string(e.ChangedBy),
		string(e.ChangedByRole),
		e.Reason,
	).Scan(&e.ID, &e.CreatedAt)
}

func (s *PgStore) List(ctx context.Context, tx pgx.Tx, entityType string, entityID types.ID) ([]Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, entity_type, entity_id, tracking_id, COALESCE(old_status, ''), new_status,
		       changed_by, changed_by_role, reason, created_at
		FROM status_audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id`, entityType, string(entityID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.TrackingID, &e.OldStatus, &e.NewStatus,
			&e.ChangedBy, &e.ChangedByRole, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
