// Package rbac holds the closed role enumeration and the permission matrix
// for plant sharing. Every authorization decision in the service goes
// through Can; role strings supplied by clients go through Valid first.
package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

const (
	// ActionRead covers reading a plant, its readings, and its member list.
	ActionRead Action = "read"
	// ActionWrite covers updating a plant and creating/updating/deleting readings.
	ActionWrite Action = "write"
	// ActionInvite covers adding and removing members.
	ActionInvite Action = "invite"
	// ActionChangeRole covers changing another member's role.
	ActionChangeRole Action = "change_role"
	// ActionDeactivate covers soft-deleting the plant itself.
	ActionDeactivate Action = "deactivate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return action == ActionRead || action == ActionWrite || action == ActionInvite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Valid reports whether value names one of the closed roles.
func Valid(value string) bool {
	switch Role(value) {
	case RoleOwner, RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}
