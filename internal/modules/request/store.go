// README: Request store backed by PostgreSQL; status changes are CAS updates on status_version.
package request

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/infra"
	"errand/internal/modules/location"
	"errand/internal/modules/tracking"
	"errand/internal/types"
)

type Store interface {
	// Insert returns tracking.ErrTrackingIDTaken when the tracking id collides.
	Insert(ctx context.Context, tx pgx.Tx, r *Request) error
	Get(ctx context.Context, tx pgx.Tx, id types.ID) (*Request, error)
	Lock(ctx context.Context, tx pgx.Tx, id types.ID) (*Request, error)
	// UpdateStatus moves cur to `to` iff the row still has cur.Status and
	// cur.StatusVersion. It returns the updated row, or nil on a CAS miss.
	UpdateStatus(ctx context.Context, tx pgx.Tx, cur *Request, to Status, patch Patch, at time.Time) (*Request, error)
	ListPending(ctx context.Context, tx pgx.Tx, f PendingFilter) ([]Request, error)
	// ListStale returns pending requests created before pendingBefore and
	// active requests whose provider was last seen before providerSeenBefore.
	ListStale(ctx context.Context, tx pgx.Tx, pendingBefore, providerSeenBefore time.Time, limit int) ([]types.ID, error)
}

type PgStore struct{}

func NewStore() *PgStore {
	return &PgStore{}
}

const requestColumns = `
	id, tracking_id, service_type, customer_id, provider_id, status, status_version,
	estimated_fare, actual_fare, platform_fee, provider_earnings,
	cancelled_by, cancelled_by_role, cancellation_fee, cancel_reason,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, details,
	created_at, matched_at, picked_up_at, started_at, completed_at, cancelled_at, updated_at`

func (s *PgStore) Insert(ctx context.Context, tx pgx.Tx, r *Request) error {
	var dropLat, dropLng *float64
	if r.Dropoff != nil {
		dropLat, dropLng = &r.Dropoff.Lat, &r.Dropoff.Lng
	}
	details := r.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO requests (
			id, tracking_id, service_type, customer_id, status, status_version,
			estimated_fare, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			details, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $13
		)`,
		string(r.ID),
		r.TrackingID,
		string(r.ServiceType),
		string(r.CustomerID),
		string(r.Status),
		r.StatusVersion,
		r.EstimatedFare,
		r.Pickup.Lat, r.Pickup.Lng,
		dropLat, dropLng,
		string(details),
		r.CreatedAt,
	)
	if infra.IsUniqueViolation(err, "requests_tracking_id_key") {
		return tracking.ErrTrackingIDTaken
	}
	return err
}

func (s *PgStore) Get(ctx context.Context, tx pgx.Tx, id types.ID) (*Request, error) {
	return scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, string(id)))
}

func (s *PgStore) Lock(ctx context.Context, tx pgx.Tx, id types.ID) (*Request, error) {
	return scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, string(id)))
}

func (s *PgStore) UpdateStatus(ctx context.Context, tx pgx.Tx, cur *Request, to Status, patch Patch, at time.Time) (*Request, error) {
	var roleArg *string
	if patch.CancelledByRole != nil {
		v := string(*patch.CancelledByRole)
		roleArg = &v
	}
	row := tx.QueryRow(ctx, `
		UPDATE requests
		SET status = $1,
		    status_version = status_version + 1,
		    provider_id = COALESCE($2, provider_id),
		    actual_fare = COALESCE($3, actual_fare),
		    platform_fee = COALESCE($4, platform_fee),
		    provider_earnings = COALESCE($5, provider_earnings),
		    cancelled_by = COALESCE($6, cancelled_by),
		    cancelled_by_role = COALESCE($7, cancelled_by_role),
		    cancellation_fee = COALESCE($8, cancellation_fee),
		    cancel_reason = COALESCE($9, cancel_reason),
		    matched_at = CASE WHEN $1 = 'matched' THEN $10 ELSE matched_at END,
		    picked_up_at = CASE WHEN $1 = 'picked_up' THEN $10 ELSE picked_up_at END,
		    started_at = CASE
		        WHEN started_at IS NULL AND $1 IN ('in_progress','delivering','shopping','loading','in_transit','in_queue','waiting') THEN $10
		        ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'completed' THEN $10 ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN $10 ELSE cancelled_at END,
		    updated_at = $10
		WHERE id = $11 AND status = $12 AND status_version = $13
		RETURNING `+requestColumns,
		string(to),
		patch.ProviderID,
		patch.ActualFare,
		patch.PlatformFee,
		patch.ProviderEarnings,
		patch.CancelledBy,
		roleArg,
		patch.CancellationFee,
		patch.CancelReason,
		at,
		string(cur.ID),
		string(cur.Status),
		cur.StatusVersion,
	)
	updated, err := scanRequest(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return updated, err
}

func (s *PgStore) ListPending(ctx context.Context, tx pgx.Tx, f PendingFilter) ([]Request, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE status = 'pending'
		  AND ($1 = '' OR service_type = $1)
		  AND pickup_lat BETWEEN $2 AND $3
		  AND pickup_lng BETWEEN $4 AND $5
		ORDER BY (pickup_lat - $7) * (pickup_lat - $7)
		       + ((pickup_lng - $8) * $9) * ((pickup_lng - $8) * $9),
		         created_at
		LIMIT NULLIF($6::int, 0)`,
		string(f.ServiceType), f.MinLat, f.MaxLat, f.MinLng, f.MaxLng, f.Limit,
		f.Centre.Lat, f.Centre.Lng, location.LngScale(f.Centre.Lat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PgStore) ListStale(ctx context.Context, tx pgx.Tx, pendingBefore, providerSeenBefore time.Time, limit int) ([]types.ID, error) {
	rows, err := tx.Query(ctx, `
		SELECT r.id
		FROM requests r
		LEFT JOIN service_providers p ON p.id = r.provider_id
		WHERE (r.status = 'pending' AND r.created_at < $1)
		   OR (r.status NOT IN ('pending','completed','cancelled') AND p.last_seen_at < $2)
		ORDER BY r.created_at
		LIMIT $3`,
		pendingBefore, providerSeenBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var dropLat, dropLng *float64
	var role *string
	var details []byte
	err := row.Scan(
		&r.ID, &r.TrackingID, &r.ServiceType, &r.CustomerID, &r.ProviderID, &r.Status, &r.StatusVersion,
		&r.EstimatedFare, &r.ActualFare, &r.PlatformFee, &r.ProviderEarnings,
		&r.CancelledBy, &role, &r.CancellationFee, &r.CancelReason,
		&r.Pickup.Lat, &r.Pickup.Lng, &dropLat, &dropLng, &details,
		&r.CreatedAt, &r.MatchedAt, &r.PickedUpAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dropLat != nil && dropLng != nil {
		r.Dropoff = &types.Point{Lat: *dropLat, Lng: *dropLng}
	}
	if role != nil {
		v := types.Role(*role)
		r.CancelledByRole = &v
	}
	if len(details) > 0 {
		r.Details = details
	}
	return &r, nil
}
