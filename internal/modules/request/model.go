// README: Service request aggregate, service types and status definitions.
package request

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"errand/internal/types"
)

type ServiceType string

const (
	ServiceRide     ServiceType = "ride"
	ServiceDelivery ServiceType = "delivery"
	ServiceShopping ServiceType = "shopping"
	ServiceQueue    ServiceType = "queue"
	ServiceMoving   ServiceType = "moving"
	ServiceLaundry  ServiceType = "laundry"
)

var ServiceTypes = []ServiceType{ServiceRide, ServiceDelivery, ServiceShopping, ServiceQueue, ServiceMoving, ServiceLaundry}

var trackingPrefixes = map[ServiceType]string{
	ServiceRide:     "RID",
	ServiceDelivery: "DEL",
	ServiceShopping: "SHP",
	ServiceQueue:    "QUE",
	ServiceMoving:   "MOV",
	ServiceLaundry:  "LAU",
}

func (s ServiceType) Valid() bool {
	_, ok := trackingPrefixes[s]
	return ok
}

// Prefix is the three-letter tracking id prefix for the service type.
func (s ServiceType) Prefix() string {
	return trackingPrefixes[s]
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusMatched    Status = "matched"
	StatusArriving   Status = "arriving"
	StatusPickedUp   Status = "picked_up"
	StatusInProgress Status = "in_progress"
	StatusDelivering Status = "delivering"
	StatusShopping   Status = "shopping"
	StatusLoading    Status = "loading"
	StatusInTransit  Status = "in_transit"
	StatusUnloading  Status = "unloading"
	StatusInQueue    Status = "in_queue"
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a provider is working the request.
func (s Status) Active() bool {
	return s != StatusPending && !s.Terminal()
}

var (
	ErrNotFound          = errors.New("request not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("request already completed or cancelled")
	ErrForbidden         = errors.New("caller may not act on this request")
	ErrBadRequest        = errors.New("bad request")
)

type Request struct {
	ID               types.ID         `json:"id"`
	TrackingID       string           `json:"tracking_id"`
	ServiceType      ServiceType      `json:"service_type"`
	CustomerID       types.ID         `json:"customer_id"`
	ProviderID       *types.ID        `json:"provider_id,omitempty"`
	Status           Status           `json:"status"`
	StatusVersion    int              `json:"status_version"`
	EstimatedFare    decimal.Decimal  `json:"estimated_fare"`
	ActualFare       *decimal.Decimal `json:"actual_fare,omitempty"`
	PlatformFee      *decimal.Decimal `json:"platform_fee,omitempty"`
	ProviderEarnings *decimal.Decimal `json:"provider_earnings,omitempty"`
	CancelledBy      *types.ID        `json:"cancelled_by,omitempty"`
	CancelledByRole  *types.Role      `json:"cancelled_by_role,omitempty"`
	CancellationFee  *decimal.Decimal `json:"cancellation_fee,omitempty"`
	CancelReason     *string          `json:"cancel_reason,omitempty"`
	Pickup           types.Point      `json:"pickup"`
	Dropoff          *types.Point     `json:"dropoff,omitempty"`
	Details          json.RawMessage  `json:"details,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	MatchedAt        *time.Time       `json:"matched_at,omitempty"`
	PickedUpAt       *time.Time       `json:"picked_up_at,omitempty"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// AssignedTo reports whether providerID is the provider bound to the request.
func (r *Request) AssignedTo(providerID types.ID) bool {
	return r.ProviderID != nil && *r.ProviderID == providerID
}

// Patch carries the columns a transition sets alongside the status.
type Patch struct {
	ProviderID       *types.ID
	ActualFare       *decimal.Decimal
	PlatformFee      *decimal.Decimal
	ProviderEarnings *decimal.Decimal
	CancelledBy      *types.ID
	CancelledByRole  *types.Role
	CancellationFee  *decimal.Decimal
	CancelReason     *string
}

// PendingFilter is the coarse SQL pre-filter for the nearby search. Rows
// come back nearest to Centre first so Limit never drops a closer request.
type PendingFilter struct {
	ServiceType    ServiceType
	Centre         types.Point
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	Limit          int
}
