// README: Request service: create-with-escrow, provider-driven status updates, reads and the nearby pending search.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"errand/internal/infra"
	"errand/internal/modules/audit"
	"errand/internal/modules/location"
	"errand/internal/modules/tracking"
	"errand/internal/modules/wallet"
	"errand/internal/observability"
	"errand/internal/types"
)

var tracer = otel.Tracer("errand/request")

const maxTrackingAttempts = 5

// PendingIndex is the geo index of pending requests. It is a cache: the
// database stays authoritative and every hit is re-checked.
type PendingIndex interface {
	Add(ctx context.Context, id types.ID, serviceType string, at types.Point) error
	Remove(ctx context.Context, id types.ID, serviceType string) error
	Nearby(ctx context.Context, serviceTypes []string, at types.Point, radiusKm float64, limit int) ([]types.ID, error)
	Reset(ctx context.Context, serviceTypes []string) error
}

type IDGenerator interface {
	Generate(prefix string) (string, error)
}

type SearchDefaults struct {
	RadiusKm float64
	Limit    int
}

type Service struct {
	runner   infra.TxRunner
	store    Store
	machine  *StateMachine
	ledger   *wallet.Ledger
	audit    *audit.Writer
	ids      IDGenerator
	index    PendingIndex
	defaults SearchDefaults
	now      func() time.Time
}

type Deps struct {
	Runner   infra.TxRunner
	Store    Store
	Machine  *StateMachine
	Ledger   *wallet.Ledger
	Audit    *audit.Writer
	IDs      IDGenerator
	Index    PendingIndex
	Defaults SearchDefaults
}

func NewService(d Deps) *Service {
	if d.Defaults.RadiusKm <= 0 {
		d.Defaults.RadiusKm = 5
	}
	if d.Defaults.Limit <= 0 {
		d.Defaults.Limit = 50
	}
	return &Service{
		runner:   d.Runner,
		store:    d.Store,
		machine:  d.Machine,
		ledger:   d.Ledger,
		audit:    d.Audit,
		ids:      d.IDs,
		index:    d.Index,
		defaults: d.Defaults,
		now:      time.Now,
	}
}

type CreateCommand struct {
	CustomerID    types.ID
	ServiceType   ServiceType
	Pickup        types.Point
	Dropoff       *types.Point
	EstimatedFare decimal.Decimal
	Details       json.RawMessage
	Actor         types.Actor
}

type TransitionCommand struct {
	RequestID types.ID
	To        Status
	Actor     types.Actor
	Reason    string
}

type NearbyQuery struct {
	At          types.Point
	RadiusKm    float64
	ServiceType ServiceType
	Limit       int
	Actor       types.Actor
}

type Nearby struct {
	Request    Request `json:"request"`
	DistanceKm float64 `json:"distance_km"`
}

// Create inserts a pending request and escrows its estimated fare in one
// transaction. A tracking id collision regenerates the id and retries.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (_ *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Create")
	defer func() { observability.EndSpan(span, err) }()

	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	var created *Request
	for attempt := 1; attempt <= maxTrackingAttempts; attempt++ {
		trackingID, err := s.ids.Generate(cmd.ServiceType.Prefix())
		if err != nil {
			return nil, err
		}
		now := s.now()
		req := &Request{
			ID:            types.NewID(),
			TrackingID:    trackingID,
			ServiceType:   cmd.ServiceType,
			CustomerID:    cmd.CustomerID,
			Status:        StatusPending,
			EstimatedFare: types.Money(cmd.EstimatedFare),
			Pickup:        cmd.Pickup,
			Dropoff:       cmd.Dropoff,
			Details:       cmd.Details,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
			if err := s.store.Insert(ctx, tx, req); err != nil {
				return err
			}
			if _, err := s.ledger.Hold(ctx, tx, req.CustomerID, req.EstimatedFare, req.ID); err != nil {
				return err
			}
			return s.machine.Record(ctx, tx, req, "", cmd.Actor, "created")
		})
		if errors.Is(err, tracking.ErrTrackingIDTaken) {
			zerolog.Ctx(ctx).Debug().Str("tracking_id", trackingID).Int("attempt", attempt).Msg("tracking id collision")
			continue
		}
		if err != nil {
			return nil, err
		}
		created = req
		break
	}
	if created == nil {
		return nil, fmt.Errorf("request: %d tracking id collisions: %w", maxTrackingAttempts, tracking.ErrTrackingIDTaken)
	}

	span.SetAttributes(attribute.String("request.id", string(created.ID)), attribute.String("request.tracking_id", created.TrackingID))
	zerolog.Ctx(ctx).Info().
		Str("request_id", string(created.ID)).
		Str("tracking_id", created.TrackingID).
		Str("service_type", string(created.ServiceType)).
		Str("estimated_fare", created.EstimatedFare.StringFixed(types.MoneyPlaces)).
		Msg("request created with escrow hold")

	if s.index != nil {
		if err := s.index.Add(ctx, created.ID, string(created.ServiceType), created.Pickup); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("request_id", string(created.ID)).Msg("pending index add failed")
		}
	}
	return created, nil
}

// Transition moves an active request through its service-specific statuses.
// matched, completed and cancelled are reached through Accept, Complete and
// Cancel, which carry the money side of those transitions.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (_ *Request, err error) {
	ctx, span := tracer.Start(ctx, "request.Transition")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("request.id", string(cmd.RequestID)), attribute.String("request.to", string(cmd.To)))

	switch cmd.To {
	case StatusMatched, StatusCompleted, StatusCancelled:
		return nil, fmt.Errorf("%w: %s is reached through its dedicated operation", ErrInvalidTransition, cmd.To)
	case "":
		return nil, ErrBadRequest
	}

	var out *Request
	err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.store.Lock(ctx, tx, cmd.RequestID)
		if err != nil {
			return err
		}
		if err := authorizeProviderAction(req, cmd.Actor); err != nil {
			return err
		}
		out, err = s.machine.Apply(ctx, tx, req, cmd.To, cmd.Actor, cmd.Reason, Patch{})
		return err
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("request_id", string(out.ID)).
		Str("tracking_id", out.TrackingID).
		Str("to", string(out.Status)).
		Msg("request status updated")
	return out, nil
}

func (s *Service) Get(ctx context.Context, id types.ID, actor types.Actor) (*Request, error) {
	var out *Request
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.store.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanView(req, actor) {
			return ErrForbidden
		}
		out = req
		return nil
	})
	return out, err
}

// AuditTrail returns the audit entries of a request in commit order.
func (s *Service) AuditTrail(ctx context.Context, id types.ID, actor types.Actor) ([]audit.Entry, error) {
	var out []audit.Entry
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		req, err := s.store.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanView(req, actor) {
			return ErrForbidden
		}
		out, err = s.audit.List(ctx, tx, audit.EntityRequest, id)
		return err
	})
	return out, err
}

// ListPendingNear returns pending requests within the radius, nearest first.
// The Redis index answers when configured; otherwise the database is scanned
// with a bounding box and filtered by great-circle distance.
func (s *Service) ListPendingNear(ctx context.Context, q NearbyQuery) (_ []Nearby, err error) {
	ctx, span := tracer.Start(ctx, "request.ListPendingNear")
	defer func() { observability.EndSpan(span, err) }()

	if q.Actor.Role != types.RoleProvider && q.Actor.Role != types.RoleAdmin && q.Actor.Role != types.RoleSystem {
		return nil, ErrForbidden
	}
	if !location.ValidPoint(q.At) || (q.ServiceType != "" && !q.ServiceType.Valid()) {
		return nil, ErrBadRequest
	}
	if q.RadiusKm <= 0 {
		q.RadiusKm = s.defaults.RadiusKm
	}
	if q.Limit <= 0 || q.Limit > s.defaults.Limit {
		q.Limit = s.defaults.Limit
	}

	if s.index != nil {
		out, err := s.nearbyFromIndex(ctx, q)
		if err == nil {
			return out, nil
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("pending index unavailable; scanning database")
	}
	return s.nearbyFromStore(ctx, q)
}

func (s *Service) nearbyFromIndex(ctx context.Context, q NearbyQuery) ([]Nearby, error) {
	serviceTypes := make([]string, 0, len(ServiceTypes))
	if q.ServiceType != "" {
		serviceTypes = append(serviceTypes, string(q.ServiceType))
	} else {
		for _, st := range ServiceTypes {
			serviceTypes = append(serviceTypes, string(st))
		}
	}
	ids, err := s.index.Nearby(ctx, serviceTypes, q.At, q.RadiusKm, q.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]Nearby, 0, len(ids))
	var stale []Request
	err = s.runner.InTx(ctx, func(tx pgx.Tx) error {
		out, stale = out[:0], stale[:0]
		for _, id := range ids {
			req, err := s.store.Get(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if req.Status != StatusPending {
				stale = append(stale, *req)
				continue
			}
			out = append(out, Nearby{Request: *req, DistanceKm: location.HaversineKm(q.At, req.Pickup)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, req := range stale {
		_ = s.index.Remove(ctx, req.ID, string(req.ServiceType))
	}
	location.SortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	return out, nil
}

func (s *Service) nearbyFromStore(ctx context.Context, q NearbyQuery) ([]Nearby, error) {
	box := location.BoundingBox(q.At, q.RadiusKm)
	var out []Nearby
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := s.store.ListPending(ctx, tx, PendingFilter{
			ServiceType: q.ServiceType,
			Centre:      q.At,
			MinLat:      box.MinLat,
			MaxLat:      box.MaxLat,
			MinLng:      box.MinLng,
			MaxLng:      box.MaxLng,
			Limit:       q.Limit * 4,
		})
		if err != nil {
			return err
		}
		out = out[:0]
		for _, req := range rows {
			d := location.HaversineKm(q.At, req.Pickup)
			if d <= q.RadiusKm {
				out = append(out, Nearby{Request: req, DistanceKm: d})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	location.SortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// RebuildPendingIndex reloads the index from the pending requests in the
// database. Run at startup, since index writes happen after commit and can be lost.
func (s *Service) RebuildPendingIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	serviceTypes := make([]string, len(ServiceTypes))
	for i, st := range ServiceTypes {
		serviceTypes[i] = string(st)
	}
	var pending []Request
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		pending, err = s.store.ListPending(ctx, tx, PendingFilter{MinLat: -90, MaxLat: 90, MinLng: -180, MaxLng: 180})
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := s.index.Reset(ctx, serviceTypes); err != nil {
		return 0, err
	}
	for _, req := range pending {
		if err := s.index.Add(ctx, req.ID, string(req.ServiceType), req.Pickup); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// CanView reports whether actor may read req. Providers see pending requests
// (to pick one) and the requests assigned to them.
func CanView(req *Request, actor types.Actor) bool {
	switch actor.Role {
	case types.RoleAdmin, types.RoleSystem:
		return true
	case types.RoleCustomer:
		return req.CustomerID == actor.ID
	case types.RoleProvider:
		return req.Status == StatusPending || req.AssignedTo(actor.ID)
	}
	return false
}

func authorizeProviderAction(req *Request, actor types.Actor) error {
	switch actor.Role {
	case types.RoleAdmin, types.RoleSystem:
		return nil
	case types.RoleProvider:
		if req.AssignedTo(actor.ID) {
			return nil
		}
	}
	return ErrForbidden
}

func validateCreate(cmd CreateCommand) error {
	switch {
	case cmd.CustomerID == "":
		return fmt.Errorf("%w: customer_id is required", ErrBadRequest)
	case !cmd.ServiceType.Valid():
		return fmt.Errorf("%w: unknown service_type %q", ErrBadRequest, cmd.ServiceType)
	case !location.ValidPoint(cmd.Pickup):
		return fmt.Errorf("%w: pickup is not a valid coordinate", ErrBadRequest)
	case cmd.Dropoff != nil && !location.ValidPoint(*cmd.Dropoff):
		return fmt.Errorf("%w: dropoff is not a valid coordinate", ErrBadRequest)
	case !types.Money(cmd.EstimatedFare).IsPositive():
		return fmt.Errorf("%w: estimated_fare must be positive", ErrBadRequest)
	case len(cmd.Details) > 0 && !json.Valid(cmd.Details):
		return fmt.Errorf("%w: details must be a JSON document", ErrBadRequest)
	}
	if cmd.Actor.Role == types.RoleCustomer && cmd.Actor.ID != cmd.CustomerID {
		return ErrForbidden
	}
	if cmd.Actor.Role != types.RoleCustomer && cmd.Actor.Role != types.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
