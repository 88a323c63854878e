// README: Identity, geo and actor value objects used across modules.
package types

import "github.com/google/uuid"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role is the access level a caller acts under.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by scheduled collaborators such as the stale-request sweep.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

type Actor struct {
	ID   ID
	Role Role
}
