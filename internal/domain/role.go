package domain

// Canonical role names. Comparison is case-sensitive.
const (
	RoleNameAdmin       = "admin"
	RoleNameTaskManager = "task manager"
	RoleNameUser        = "user"
)

// CanonicalRoleNames lists the roles seeded at startup.
var CanonicalRoleNames = []string{RoleNameAdmin, RoleNameTaskManager, RoleNameUser}

// RoleKind is the closed set of roles the authorization engine understands.
type RoleKind int

const (
	RoleNone RoleKind = iota
	RoleAdmin
	RoleTaskManager
	RoleUser
)

func (k RoleKind) String() string {
	switch k {
	case RoleAdmin:
		return RoleNameAdmin
	case RoleTaskManager:
		return RoleNameTaskManager
	case RoleUser:
		return RoleNameUser
	case RoleNone:
		return "none"
	}
	return "none"
}

// ParseRoleKind maps a stored role name onto a RoleKind. Unknown names grant nothing.
func ParseRoleKind(name string) RoleKind {
	switch name {
	case RoleNameAdmin:
		return RoleAdmin
	case RoleNameTaskManager:
		return RoleTaskManager
	case RoleNameUser:
		return RoleUser
	default:
		return RoleNone
	}
}

// Role is a named permission tier assigned to users.
type Role struct {
	ID   int64
	Name string
}

// Kind returns the RoleKind for r; a nil role is RoleNone.
func (r *Role) Kind() RoleKind {
	if r == nil {
		return RoleNone
	}
	return ParseRoleKind(r.Name)
}
