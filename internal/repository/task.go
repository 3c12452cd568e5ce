package repository

import (
	"context"
	"slices"
	"strings"
	"time"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
)

// TaskFilter narrows List results. Scope is mandatory and is enforced in SQL.
type TaskFilter struct {
	Scope      authz.Scope
	AssignedTo *int64
	Statuses   []domain.TaskStatus
	Priorities []domain.TaskPriority
	DueBefore  *time.Time
	DueAfter   *time.Time
	Search     string
	Ordering   string
	Limit      int
	Offset     int
}

// TaskOrderings are the keys accepted by TaskFilter.Ordering, optionally prefixed with "-".
var TaskOrderings = []string{"due_date", "priority", "status", "created_at", "updated_at", "title"}

// ValidTaskOrdering reports whether ordering can be used as TaskFilter.Ordering.
func ValidTaskOrdering(ordering string) bool {
	return slices.Contains(TaskOrderings, strings.TrimPrefix(ordering, "-"))
}

// TaskRepository exposes persistence operations for Task aggregates.
type TaskRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, task *domain.Task) (int64, error)
	Update(ctx context.Context, task *domain.Task) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.Task, error)
	GetScoped(ctx context.Context, id int64, scope authz.Scope) (*domain.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]domain.Task, error)
	ListIDsByCreator(ctx context.Context, userID int64) ([]int64, error)
	ListIDsByAssignee(ctx context.Context, userID int64) ([]int64, error)
}
