// README: Audit log entries for status transitions of requests and providers.
package audit

import (
	"time"

	"errand/internal/types"
)

const (
	EntityRequest  = "request"
	EntityProvider = "provider"
)

type Entry struct {
	ID            int64      `json:"id"`
	EntityType    string     `json:"entity_type"`
	EntityID      types.ID   `json:"entity_id"`
	TrackingID    string     `json:"tracking_id,omitempty"`
	OldStatus     string     `json:"old_status,omitempty"`
	NewStatus     string     `json:"new_status"`
	ChangedBy     types.ID   `json:"changed_by"`
	ChangedByRole types.Role `json:"changed_by_role"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
