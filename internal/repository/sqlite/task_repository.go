package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
	"taskhub/internal/repository"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	due_date DATETIME NOT NULL,
	priority TEXT NOT NULL DEFAULT 'MEDIUM',
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_by INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	assigned_to INTEGER NULL REFERENCES users(id) ON DELETE SET NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by);
`

const selectTasks = `
SELECT t.id, t.title, t.description, t.due_date, t.priority, t.status, t.created_at, t.updated_at,
	c.id, c.username, c.email, a.id, a.username, a.email
FROM tasks t
JOIN users c ON c.id = t.created_by
LEFT JOIN users a ON a.id = t.assigned_to`

// orderings maps repository.TaskOrderings onto SQL expressions.
var orderings = map[string]string{
	"due_date":   "t.due_date",
	"created_at": "t.created_at",
	"updated_at": "t.updated_at",
	"title":      "t.title",
	"priority":   "CASE t.priority WHEN 'LOW' THEN 0 WHEN 'MEDIUM' THEN 1 WHEN 'HIGH' THEN 2 ELSE 3 END",
	"status":     "CASE t.status WHEN 'PENDING' THEN 0 WHEN 'IN_PROGRESS' THEN 1 WHEN 'COMPLETED' THEN 2 ELSE 3 END",
}

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) repository.TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTasksTable); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) (int64, error) {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (title, description, due_date, priority, status, created_by, assigned_to, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Title,
		task.Description,
		task.DueDate.UTC(),
		string(task.Priority),
		string(task.Status),
		task.CreatedBy.ID,
		assigneeID(task),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	task.ID = id
	return id, nil
}

// Update writes every mutable column. created_by and created_at are never touched.
func (r *TaskRepository) Update(ctx context.Context, task *domain.Task) error {
	task.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET title=?, description=?, due_date=?, priority=?, status=?, assigned_to=?, updated_at=?
WHERE id=?`,
		task.Title,
		task.Description,
		task.DueDate.UTC(),
		string(task.Priority),
		string(task.Status),
		assigneeID(task),
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectAffected(res, domain.ErrTaskNotFound)
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectAffected(res, domain.ErrTaskNotFound)
}

func (r *TaskRepository) Get(ctx context.Context, id int64) (*domain.Task, error) {
	return scanTask(r.db.QueryRowContext(ctx, selectTasks+`
WHERE t.id = ?`, id))
}

// GetScoped fetches a task only if it falls inside scope; rows outside it are
// reported as not found.
func (r *TaskRepository) GetScoped(ctx context.Context, id int64, scope authz.Scope) (*domain.Task, error) {
	clause, args := scopeClause(scope)
	args = append([]any{id}, args...)
	return scanTask(r.db.QueryRowContext(ctx, selectTasks+`
WHERE t.id = ? AND `+clause, args...))
}

func (r *TaskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]domain.Task, error) {
	clause, args := scopeClause(filter.Scope)
	where := []string{clause}

	if filter.AssignedTo != nil {
		where = append(where, "t.assigned_to = ?")
		args = append(args, *filter.AssignedTo)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "t.status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if len(filter.Priorities) > 0 {
		where = append(where, "t.priority IN ("+placeholders(len(filter.Priorities))+")")
		for _, p := range filter.Priorities {
			args = append(args, string(p))
		}
	}
	if filter.DueBefore != nil {
		where = append(where, "t.due_date <= ?")
		args = append(args, filter.DueBefore.UTC())
	}
	if filter.DueAfter != nil {
		where = append(where, "t.due_date >= ?")
		args = append(args, filter.DueAfter.UTC())
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, "(t.title LIKE ? ESCAPE '\\' OR t.description LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(search) + "%"
		args = append(args, pattern, pattern)
	}

	query := selectTasks + "\nWHERE " + strings.Join(where, " AND ") + "\nORDER BY " + orderBy(filter.Ordering)
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += "\nLIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

func (r *TaskRepository) ListIDsByCreator(ctx context.Context, userID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT id FROM tasks WHERE created_by = ? ORDER BY id ASC`, userID)
}

func (r *TaskRepository) ListIDsByAssignee(ctx context.Context, userID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT id FROM tasks WHERE assigned_to = ? AND created_by <> ? ORDER BY id ASC`, userID, userID)
}

func (r *TaskRepository) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scopeClause(scope authz.Scope) (string, []any) {
	switch scope.Kind {
	case authz.ScopeAll:
		return "1 = 1", nil
	case authz.ScopeAssigned:
		return "t.assigned_to = ?", []any{scope.UserID}
	case authz.ScopeNone:
		return "1 = 0", nil
	}
	return "1 = 0", nil
}

func orderBy(ordering string) string {
	if ordering == "" {
		return "t.id DESC"
	}
	dir := "ASC"
	key := ordering
	if strings.HasPrefix(key, "-") {
		dir = "DESC"
		key = key[1:]
	}
	expr, ok := orderings[key]
	if !ok {
		return "t.id DESC"
	}
	return fmt.Sprintf("%s %s, t.id %s", expr, dir, dir)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func assigneeID(task *domain.Task) any {
	if task.AssignedTo == nil {
		return nil
	}
	return task.AssignedTo.ID
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*domain.Task, error) {
	var (
		task             domain.Task
		priority, status string
		assigneeID       sql.NullInt64
		assigneeName     sql.NullString
		assigneeEmail    sql.NullString
	)

	if err := scanner.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.DueDate,
		&priority,
		&status,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CreatedBy.ID,
		&task.CreatedBy.Username,
		&task.CreatedBy.Email,
		&assigneeID,
		&assigneeName,
		&assigneeEmail,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Priority = domain.TaskPriority(priority)
	task.Status = domain.TaskStatus(status)
	task.DueDate = task.DueDate.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	if assigneeID.Valid {
		task.AssignedTo = &domain.UserRef{
			ID:       assigneeID.Int64,
			Username: assigneeName.String,
			Email:    assigneeEmail.String,
		}
	}

	return &task, nil
}
