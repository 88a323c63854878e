// README: Provider availability: available -> busy (one active request) -> available, or offline.
package provider

import (
	"errors"
	"time"

	"errand/internal/types"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	}
	return false
}

var (
	ErrNotFound        = errors.New("provider not found")
	ErrProviderBusy    = errors.New("provider is busy with another request")
	ErrProviderOffline = errors.New("provider is offline")
	ErrInvalidStatus   = errors.New("invalid provider status")
)

type Provider struct {
	ID               types.ID  `json:"id"`
	Status           Status    `json:"status"`
	CurrentRequestID *types.ID `json:"current_request_id,omitempty"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
