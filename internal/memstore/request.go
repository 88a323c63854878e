// README: In-memory request table with CAS status updates.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/modules/location"
	"errand/internal/modules/request"
	"errand/internal/modules/tracking"
	"errand/internal/types"
)

var workStatuses = map[request.Status]bool{
	request.StatusInProgress: true,
	request.StatusDelivering: true,
	request.StatusShopping:   true,
	request.StatusLoading:    true,
	request.StatusInTransit:  true,
	request.StatusInQueue:    true,
	request.StatusWaiting:    true,
}

type requestStore struct{ db *DB }

func (s requestStore) Insert(_ context.Context, t pgx.Tx, r *request.Request) error {
	st := stateOf(t)
	if _, ok := st.tracking[r.TrackingID]; ok {
		return tracking.ErrTrackingIDTaken
	}
	st.tracking[r.TrackingID] = r.ID
	st.requests[r.ID] = *r
	return nil
}

func (s requestStore) Get(_ context.Context, t pgx.Tx, id types.ID) (*request.Request, error) {
	r, ok := stateOf(t).requests[id]
	if !ok {
		return nil, request.ErrNotFound
	}
	return &r, nil
}

func (s requestStore) Lock(ctx context.Context, t pgx.Tx, id types.ID) (*request.Request, error) {
	return s.Get(ctx, t, id)
}

func (s requestStore) UpdateStatus(_ context.Context, t pgx.Tx, cur *request.Request, to request.Status, p request.Patch, at time.Time) (*request.Request, error) {
	st := stateOf(t)
	r, ok := st.requests[cur.ID]
	if !ok || r.Status != cur.Status || r.StatusVersion != cur.StatusVersion {
		return nil, nil
	}
	r.Status = to
	r.StatusVersion++
	if p.ProviderID != nil {
		r.ProviderID = p.ProviderID
	}
	if p.ActualFare != nil {
		r.ActualFare = p.ActualFare
	}
	if p.PlatformFee != nil {
		r.PlatformFee = p.PlatformFee
	}
	if p.ProviderEarnings != nil {
		r.ProviderEarnings = p.ProviderEarnings
	}
	if p.CancelledBy != nil {
		r.CancelledBy = p.CancelledBy
	}
	if p.CancelledByRole != nil {
		r.CancelledByRole = p.CancelledByRole
	}
	if p.CancellationFee != nil {
		r.CancellationFee = p.CancellationFee
	}
	if p.CancelReason != nil {
		r.CancelReason = p.CancelReason
	}
	switch {
	case to == request.StatusMatched:
		r.MatchedAt = &at
	case to == request.StatusPickedUp:
		r.PickedUpAt = &at
	case to == request.StatusCompleted:
		r.CompletedAt = &at
	case to == request.StatusCancelled:
		r.CancelledAt = &at
	case workStatuses[to] && r.StartedAt == nil:
		r.StartedAt = &at
	}
	r.UpdatedAt = at
	st.requests[r.ID] = r
	return &r, nil
}

func (s requestStore) ListPending(_ context.Context, t pgx.Tx, f request.PendingFilter) ([]request.Request, error) {
	var out []request.Request
	for _, r := range stateOf(t).requests {
		if r.Status != request.StatusPending {
			continue
		}
		if f.ServiceType != "" && r.ServiceType != f.ServiceType {
			continue
		}
		if r.Pickup.Lat < f.MinLat || r.Pickup.Lat > f.MaxLat || r.Pickup.Lng < f.MinLng || r.Pickup.Lng > f.MaxLng {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b request.Request) int {
		if c := cmp.Compare(location.PlanarDistanceSq(f.Centre, a.Pickup), location.PlanarDistanceSq(f.Centre, b.Pickup)); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s requestStore) ListStale(_ context.Context, t pgx.Tx, pendingBefore, providerSeenBefore time.Time, limit int) ([]types.ID, error) {
	st := stateOf(t)
	var stale []request.Request
	for _, r := range st.requests {
		switch {
		case r.Status == request.StatusPending:
			if r.CreatedAt.Before(pendingBefore) {
				stale = append(stale, r)
			}
		case r.Status.Active() && r.ProviderID != nil:
			if p, ok := st.providers[*r.ProviderID]; ok && p.LastSeenAt.Before(providerSeenBefore) {
				stale = append(stale, r)
			}
		}
	}
	slices.SortFunc(stale, func(a, b request.Request) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]types.ID, len(stale))
	for i, r := range stale {
		ids[i] = r.ID
	}
	return ids, nil
}
