// Package auth supplies the caller identity and role consumed by the
// reconciliation engine. The authentication subsystem proper lives outside
// this repo; the middleware here only extracts what upstream already issued.
package auth

// Role is the closed set of caller roles the engine dispatches on
type Role string

// Caller roles
const (
	RoleCoordinator Role = "coordinator"
	RoleSupervisor  Role = "supervisor"
	RoleAdmin       Role = "admin"
)

// Valid reports whether the role is a known value
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller as seen by the engine
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}
