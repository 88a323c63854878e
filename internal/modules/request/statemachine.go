// README: Request state machine: global adjacency, per-service legal subsets, and the CAS + audit transition.
package request

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"errand/internal/infra"
	"errand/internal/modules/audit"
	"errand/internal/types"
)

// AllowedTransitions is the global status graph shared by every service type.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusMatched, StatusCancelled},
	StatusMatched:    {StatusArriving, StatusPickedUp, StatusInProgress, StatusCancelled},
	StatusArriving:   {StatusPickedUp, StatusCancelled},
	StatusPickedUp:   {StatusInProgress, StatusDelivering, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusDelivering: {StatusCompleted, StatusCancelled},
	StatusShopping:   {StatusDelivering, StatusCancelled},
	StatusLoading:    {StatusInTransit, StatusCancelled},
	StatusInTransit:  {StatusUnloading, StatusCancelled},
	StatusUnloading:  {StatusCompleted, StatusCancelled},
	StatusInQueue:    {StatusWaiting, StatusCompleted, StatusCancelled},
	StatusWaiting:    {StatusCompleted, StatusCancelled},
	StatusReady:      {StatusDelivering, StatusCompleted, StatusCancelled},
}

var commonStates = []Status{StatusPending, StatusMatched, StatusCompleted, StatusCancelled}

// ServiceStates lists the service-specific statuses each type may enter in
// addition to pending, matched, completed and cancelled.
var ServiceStates = map[ServiceType][]Status{
	ServiceRide:     {StatusArriving, StatusPickedUp, StatusInProgress},
	ServiceDelivery: {StatusArriving, StatusPickedUp, StatusDelivering},
	ServiceShopping: {StatusShopping, StatusPickedUp, StatusDelivering},
	ServiceQueue:    {StatusInQueue, StatusWaiting, StatusInProgress},
	ServiceMoving:   {StatusArriving, StatusPickedUp, StatusLoading, StatusInTransit, StatusUnloading, StatusInProgress},
	ServiceLaundry:  {StatusArriving, StatusPickedUp, StatusReady, StatusDelivering, StatusInProgress},
}

// CanTransition reports whether from -> to is an edge of the graph and to is
// legal for the service type.
func CanTransition(st ServiceType, from, to Status) bool {
	if !inSubset(st, to) {
		return false
	}
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the legal targets from the given status for the service type.
func NextStatuses(st ServiceType, from Status) []Status {
	var out []Status
	for _, s := range AllowedTransitions[from] {
		if inSubset(st, s) {
			out = append(out, s)
		}
	}
	return out
}

func inSubset(st ServiceType, s Status) bool {
	extra, ok := ServiceStates[st]
	if !ok {
		return false
	}
	for _, c := range commonStates {
		if c == s {
			return true
		}
	}
	for _, c := range extra {
		if c == s {
			return true
		}
	}
	return false
}

type StateMachine struct {
	store Store
	audit *audit.Writer
	now   func() time.Time
}

func NewStateMachine(store Store, auditWriter *audit.Writer) *StateMachine {
	return &StateMachine{store: store, audit: auditWriter, now: time.Now}
}

// Advance checks legality and performs the compare-and-swap on
// (id, status, status_version). It does not write the audit entry; callers
// that change more state in the same transaction call Record last.
func (m *StateMachine) Advance(ctx context.Context, tx pgx.Tx, req *Request, to Status, patch Patch) (*Request, error) {
	if !CanTransition(req.ServiceType, req.Status, to) {
		transitionsRejected.WithLabelValues(string(req.Status), string(to)).Inc()
		zerolog.Ctx(ctx).Warn().
			Str("request_id", string(req.ID)).
			Str("tracking_id", req.TrackingID).
			Str("service_type", string(req.ServiceType)).
			Str("from", string(req.Status)).
			Str("to", string(to)).
			Msg("rejected status transition")
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, req.Status, to, req.ServiceType)
	}
	updated, err := m.store.UpdateStatus(ctx, tx, req, to, patch, m.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("request %s moved past version %d: %w", req.ID, req.StatusVersion, infra.ErrConcurrencyConflict)
	}
	transitions.WithLabelValues(string(req.Status), string(to)).Inc()
	return updated, nil
}

// Record appends the audit entry for a transition from old to req.Status.
func (m *StateMachine) Record(ctx context.Context, tx pgx.Tx, req *Request, old Status, actor types.Actor, reason string) error {
	return m.audit.Append(ctx, tx, &audit.Entry{
		EntityType:    audit.EntityRequest,
		EntityID:      req.ID,
		TrackingID:    req.TrackingID,
		OldStatus:     string(old),
		NewStatus:     string(req.Status),
		ChangedBy:     actor.ID,
		ChangedByRole: actor.Role,
		Reason:        reason,
	})
}

// Apply is Advance followed by Record.
func (m *StateMachine) Apply(ctx context.Context, tx pgx.Tx, req *Request, to Status, actor types.Actor, reason string, patch Patch) (*Request, error) {
	updated, err := m.Advance(ctx, tx, req, to, patch)
	if err != nil {
		return nil, err
	}
	if err := m.Record(ctx, tx, updated, req.Status, actor, reason); err != nil {
		return nil, err
	}
	return updated, nil
}
