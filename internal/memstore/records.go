// README: In-memory audit, loyalty and idempotency tables.
package memstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"errand/internal/infra"
	"errand/internal/modules/audit"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/loyalty"
	"errand/internal/types"
)

type auditStore struct{ db *DB }

func (s auditStore) Insert(_ context.Context, t pgx.Tx, e *audit.Entry) error {
	st := stateOf(t)
	e.ID = st.next()
	e.CreatedAt = s.db.now()
	st.auditLog = append(st.auditLog, *e)
	return nil
}

func (s auditStore) List(_ context.Context, t pgx.Tx, entityType string, entityID types.ID) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range stateOf(t).auditLog {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type loyaltyStore struct{ db *DB }

func (s loyaltyStore) AddPoints(_ context.Context, t pgx.Tx, userID types.ID, points int64) error {
	st := stateOf(t)
	acc := st.loyalty[userID]
	acc.UserID = userID
	acc.TotalPoints += points
	acc.AvailablePoints += points
	acc.UpdatedAt = s.db.now()
	st.loyalty[userID] = acc
	return nil
}

func (s loyaltyStore) InsertTransaction(_ context.Context, t pgx.Tx, pt *loyalty.PointsTransaction) error {
	st := stateOf(t)
	pt.ID = st.next()
	pt.CreatedAt = s.db.now()
	st.points = append(st.points, *pt)
	return nil
}

func (s loyaltyStore) GetAccount(_ context.Context, t pgx.Tx, userID types.ID) (*loyalty.Account, error) {
	acc, ok := stateOf(t).loyalty[userID]
	if !ok {
		return nil, loyalty.ErrAccountNotFound
	}
	return &acc, nil
}

type idempotencyKey struct {
	provider types.ID
	key      string
}

type idempotencyStore struct{ db *DB }

func (s idempotencyStore) Get(_ context.Context, t pgx.Tx, providerID types.ID, key string) (*dispatch.Record, error) {
	rec, ok := stateOf(t).idempotency[idempotencyKey{providerID, key}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s idempotencyStore) Insert(_ context.Context, t pgx.Tx, rec *dispatch.Record) error {
	st := stateOf(t)
	k := idempotencyKey{rec.ProviderID, rec.Key}
	if _, ok := st.idempotency[k]; ok {
		return fmt.Errorf("idempotency key %q for provider %s: %w", rec.Key, rec.ProviderID, infra.ErrConcurrencyConflict)
	}
	rec.CreatedAt = s.db.now()
	st.idempotency[k] = *rec
	return nil
}
