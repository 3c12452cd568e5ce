package authz

import "taskhub/internal/domain"

// ScopeKind selects which rows a query may touch.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeAssigned
)

// Scope restricts a query to the rows an actor may see. It is applied in
// the data-fetch layer so hidden rows never reach the caller.
type Scope struct {
	Kind   ScopeKind
	UserID int64
}

// TaskScope returns the task visibility for actor: admin and task manager see
// everything, plain users only what is assigned to them.
func TaskScope(actor *domain.User) Scope {
	switch actor.RoleKind() {
	case domain.RoleAdmin, domain.RoleTaskManager:
		return Scope{Kind: ScopeAll}
	case domain.RoleUser:
		return Scope{Kind: ScopeAssigned, UserID: actor.ID}
	case domain.RoleNone:
		return Scope{Kind: ScopeNone}
	}
	return Scope{Kind: ScopeNone}
}

// AdminScope is the visibility rule for users and roles.
func AdminScope(actor *domain.User) Scope {
	if actor.RoleKind() == domain.RoleAdmin {
		return Scope{Kind: ScopeAll}
	}
	return Scope{Kind: ScopeNone}
}
