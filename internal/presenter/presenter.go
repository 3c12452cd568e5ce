// Package presenter renders domain entities as the JSON documents shared by
// the REST API and the realtime channel.
package presenter

import (
	"time"

	"taskhub/internal/domain"
)

type UserRefResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type TaskResponse struct {
	ID          int64               `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	DueDate     string              `json:"due_date"`
	Priority    domain.TaskPriority `json:"priority"`
	Status      domain.TaskStatus   `json:"status"`
	CreatedBy   UserRefResponse     `json:"created_by"`
	AssignedTo  *UserRefResponse    `json:"assigned_to"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at"`
}

type RoleResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type UserResponse struct {
	ID        int64         `json:"id"`
	Username  string        `json:"username"`
	Email     string        `json:"email"`
	Role      *RoleResponse `json:"role"`
	IsActive  bool          `json:"is_active"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
}

func Task(task domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		DueDate:     task.DueDate.UTC().Format(time.RFC3339),
		Priority:    task.Priority,
		Status:      task.Status,
		CreatedBy:   userRef(task.CreatedBy),
		CreatedAt:   task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   task.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if task.AssignedTo != nil {
		ref := userRef(*task.AssignedTo)
		resp.AssignedTo = &ref
	}
	return resp
}

func Tasks(tasks []domain.Task) []TaskResponse {
	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = Task(tasks[i])
	}
	return resp
}

func Role(role domain.Role) RoleResponse {
	return RoleResponse{ID: role.ID, Name: role.Name}
}

func Roles(roles []domain.Role) []RoleResponse {
	resp := make([]RoleResponse, len(roles))
	for i := range roles {
		resp[i] = Role(roles[i])
	}
	return resp
}

// User never exposes the password hash.
func User(user domain.User) UserResponse {
	resp := UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if user.Role != nil {
		role := Role(*user.Role)
		resp.Role = &role
	}
	return resp
}

func Users(users []domain.User) []UserResponse {
	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = User(users[i])
	}
	return resp
}

func userRef(ref domain.UserRef) UserRefResponse {
	return UserRefResponse{ID: ref.ID, Username: ref.Username, Email: ref.Email}
}
