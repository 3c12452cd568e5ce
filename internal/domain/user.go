package domain

import "time"

// User represents an authenticated user of the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	Role         *Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRef is the lightweight view of a user embedded in tasks.
type UserRef struct {
	ID       int64
	Username string
	Email    string
}

// RoleOf returns the role assigned to user, or nil when there is none.
func RoleOf(user *User) *Role {
	if user == nil {
		return nil
	}
	return user.Role
}

// RoleKind resolves the user's role. Inactive users have no role.
func (u *User) RoleKind() RoleKind {
	if u == nil || !u.IsActive {
		return RoleNone
	}
	return RoleOf(u).Kind()
}

// Ref returns the embedded reference form of u.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, Email: u.Email}
}
