// Package authz decides which actors may perform which actions on tasks,
// users and roles, and how task queries are scoped per actor.
package authz

import "taskhub/internal/domain"

// Action is an operation requested against a resource.
type Action string

const (
	ActionList     Action = "list"
	ActionRetrieve Action = "retrieve"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionExport   Action = "export"
)

func (a Action) readOnly() bool {
	return a == ActionList || a == ActionRetrieve
}

// Resource identifies a collection guarded by the engine.
type Resource string

const (
	ResourceTasks Resource = "tasks"
	ResourceUsers Resource = "users"
	ResourceRoles Resource = "roles"
)

// CanAccess runs the collection-level check and, when target is non-nil, the
// instance-level check against it.
func CanAccess(actor *domain.User, action Action, resource Resource, target *domain.Task) bool {
	if !Allow(actor, action, resource) {
		return false
	}
	if target == nil {
		return true
	}
	if resource != ResourceTasks {
		return false
	}
	return AllowTask(actor, action, target)
}

// Allow is the collection-level check. It runs before any query.
func Allow(actor *domain.User, action Action, resource Resource) bool {
	kind := actor.RoleKind()
	switch resource {
	case ResourceTasks:
		return allowTasks(kind, action)
	case ResourceUsers, ResourceRoles:
		return allowAdminResource(kind, action)
	}
	return false
}

func allowTasks(kind domain.RoleKind, action Action) bool {
	switch kind {
	case domain.RoleAdmin, domain.RoleTaskManager:
		return true
	case domain.RoleUser:
		return action.readOnly()
	case domain.RoleNone:
		return false
	}
	return false
}

// Users and roles are admin-only, but listing is allowed for every role so
// non-admins get an empty scope rather than an error.
func allowAdminResource(kind domain.RoleKind, action Action) bool {
	switch kind {
	case domain.RoleAdmin:
		return true
	case domain.RoleTaskManager, domain.RoleUser:
		return action == ActionList
	case domain.RoleNone:
		return false
	}
	return false
}

// AllowTask is the instance-level check, run once the target has been fetched.
func AllowTask(actor *domain.User, action Action, task *domain.Task) bool {
	if task == nil {
		return false
	}
	switch actor.RoleKind() {
	case domain.RoleAdmin, domain.RoleTaskManager:
		return true
	case domain.RoleUser:
		switch action {
		case ActionRetrieve, ActionUpdate, ActionDelete:
			return task.IsAssignedTo(actor.ID)
		}
		return false
	case domain.RoleNone:
		return false
	}
	return false
}
