// README: In-memory provider availability table.
package memstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/modules/provider"
	"errand/internal/types"
)

type providerStore struct{ db *DB }

func (s providerStore) Get(_ context.Context, t pgx.Tx, id types.ID) (*provider.Provider, error) {
	p, ok := stateOf(t).providers[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &p, nil
}

func (s providerStore) Lock(ctx context.Context, t pgx.Tx, id types.ID) (*provider.Provider, error) {
	return s.Get(ctx, t, id)
}

func (s providerStore) Upsert(_ context.Context, t pgx.Tx, id types.ID, status provider.Status, at time.Time) error {
	st := stateOf(t)
	p, ok := st.providers[id]
	if ok && p.Status == provider.StatusBusy {
		return nil
	}
	st.providers[id] = provider.Provider{ID: id, Status: status, LastSeenAt: at, UpdatedAt: at}
	return nil
}

func (s providerStore) MarkBusy(_ context.Context, t pgx.Tx, id, requestID types.ID, at time.Time) (bool, error) {
	st := stateOf(t)
	p, ok := st.providers[id]
	if !ok || p.Status != provider.StatusAvailable {
		return false, nil
	}
	p.Status = provider.StatusBusy
	p.CurrentRequestID = &requestID
	p.UpdatedAt = at
	st.providers[id] = p
	return true, nil
}

func (s providerStore) MarkAvailable(_ context.Context, t pgx.Tx, id, requestID types.ID, at time.Time) (bool, error) {
	st := stateOf(t)
	p, ok := st.providers[id]
	if !ok || p.Status != provider.StatusBusy || p.CurrentRequestID == nil || *p.CurrentRequestID != requestID {
		return false, nil
	}
	p.Status = provider.StatusAvailable
	p.CurrentRequestID = nil
	p.UpdatedAt = at
	st.providers[id] = p
	return true, nil
}

func (s providerStore) Touch(_ context.Context, t pgx.Tx, id types.ID, at time.Time) (bool, error) {
	st := stateOf(t)
	p, ok := st.providers[id]
	if !ok {
		return false, nil
	}
	p.LastSeenAt = at
	st.providers[id] = p
	return true, nil
}
