package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
	"taskhub/internal/notify"
	"taskhub/internal/repository"
)

const maxTitleLength = 200

// OptionalID distinguishes an absent field from an explicit null.
type OptionalID struct {
	Set   bool
	Value *int64
}

// TaskInput carries the writable task fields; nil pointers are "not provided".
type TaskInput struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Priority    *domain.TaskPriority
	Status      *domain.TaskStatus
	AssignedTo  OptionalID
}

// TaskService coordinates task operations: authorization, persistence and
// change notification.
type TaskService interface {
	CreateTask(ctx context.Context, actor *domain.User, input TaskInput) (*domain.Task, error)
	UpdateTask(ctx context.Context, actor *domain.User, id int64, input TaskInput, partial bool) (*domain.Task, error)
	DeleteTask(ctx context.Context, actor *domain.User, id int64) error
	// AuthorizeUpdate runs the update checks for id without touching it, so
	// callers can reject a request before looking at its body.
	AuthorizeUpdate(ctx context.Context, actor *domain.User, id int64) error
	GetTask(ctx context.Context, actor *domain.User, id int64) (*domain.Task, error)
	ListTasks(ctx context.Context, actor *domain.User, filter repository.TaskFilter) ([]domain.Task, error)
	// LookupTask reads a task without applying any actor scope.
	LookupTask(ctx context.Context, id int64) (*domain.Task, error)
}

type taskService struct {
	tasks     repository.TaskRepository
	users     repository.UserRepository
	publisher notify.Publisher
	logger    *logrus.Logger
}

func NewTaskService(tasks repository.TaskRepository, users repository.UserRepository, publisher notify.Publisher, logger *logrus.Logger) TaskService {
	if logger == nil {
		logger = logrus.New()
	}
	return &taskService{
		tasks:     tasks,
		users:     users,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *taskService) CreateTask(ctx context.Context, actor *domain.User, input TaskInput) (*domain.Task, error) {
	if !authz.Allow(actor, authz.ActionCreate, authz.ResourceTasks) {
		return nil, domain.ErrForbidden
	}

	task := &domain.Task{
		Priority:  domain.TaskPriorityMedium,
		Status:    domain.TaskStatusPending,
		CreatedBy: actor.Ref(),
	}
	if err := s.apply(ctx, task, input, true); err != nil {
		return nil, err
	}

	if _, err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, task.ID, domain.TaskActionCreated)

	return s.reload(ctx, task), nil
}

func (s *taskService) UpdateTask(ctx context.Context, actor *domain.User, id int64, input TaskInput, partial bool) (*domain.Task, error) {
	task, err := s.fetchForWrite(ctx, actor, authz.ActionUpdate, id)
	if err != nil {
		return nil, err
	}

	if err := s.apply(ctx, task, input, !partial); err != nil {
		return nil, err
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, task.ID, domain.TaskActionUpdated)

	return s.reload(ctx, task), nil
}

func (s *taskService) AuthorizeUpdate(ctx context.Context, actor *domain.User, id int64) error {
	_, err := s.fetchForWrite(ctx, actor, authz.ActionUpdate, id)
	return err
}

// reload reads back a committed task. The write already succeeded, so a
// failed read falls back to the in-memory copy.
func (s *taskService) reload(ctx context.Context, task *domain.Task) *domain.Task {
	fresh, err := s.tasks.Get(ctx, task.ID)
	if err != nil {
		s.logger.WithField("task_id", task.ID).Warnf("reload task after write: %v", err)
		return task
	}
	return fresh
}

func (s *taskService) DeleteTask(ctx context.Context, actor *domain.User, id int64) error {
	task, err := s.fetchForWrite(ctx, actor, authz.ActionDelete, id)
	if err != nil {
		return err
	}

	if err := s.tasks.Delete(ctx, task.ID); err != nil {
		return err
	}
	s.publish(ctx, task.ID, domain.TaskActionDeleted)
	return nil
}

func (s *taskService) GetTask(ctx context.Context, actor *domain.User, id int64) (*domain.Task, error) {
	if !authz.Allow(actor, authz.ActionRetrieve, authz.ResourceTasks) {
		return nil, domain.ErrForbidden
	}
	task, err := s.tasks.GetScoped(ctx, id, authz.TaskScope(actor))
	if err != nil {
		return nil, err
	}
	if !authz.AllowTask(actor, authz.ActionRetrieve, task) {
		return nil, domain.ErrForbidden
	}
	return task, nil
}

func (s *taskService) ListTasks(ctx context.Context, actor *domain.User, filter repository.TaskFilter) ([]domain.Task, error) {
	if !authz.Allow(actor, authz.ActionList, authz.ResourceTasks) {
		return nil, domain.ErrForbidden
	}
	if filter.Ordering != "" && !repository.ValidTaskOrdering(filter.Ordering) {
		return nil, domain.ValidationError(map[string]string{
			"ordering": "must be one of " + strings.Join(repository.TaskOrderings, ", "),
		})
	}
	filter.Scope = authz.TaskScope(actor)
	return s.tasks.List(ctx, filter)
}

func (s *taskService) LookupTask(ctx context.Context, id int64) (*domain.Task, error) {
	return s.tasks.Get(ctx, id)
}

// fetchForWrite runs the collection check, loads the target through the
// actor's scope and then runs the instance check, in that order.
func (s *taskService) fetchForWrite(ctx context.Context, actor *domain.User, action authz.Action, id int64) (*domain.Task, error) {
	if !authz.Allow(actor, action, authz.ResourceTasks) {
		return nil, domain.ErrForbidden
	}
	task, err := s.tasks.GetScoped(ctx, id, authz.TaskScope(actor))
	if err != nil {
		return nil, err
	}
	if !authz.AllowTask(actor, action, task) {
		return nil, domain.ErrForbidden
	}
	return task, nil
}

// apply merges input into task and validates the result. When full is set,
// title and due_date must be present in input.
func (s *taskService) apply(ctx context.Context, task *domain.Task, input TaskInput, full bool) error {
	fields := map[string]string{}

	if input.Title != nil {
		task.Title = strings.TrimSpace(*input.Title)
	} else if full {
		fields["title"] = "this field is required"
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.DueDate != nil {
		task.DueDate = input.DueDate.UTC()
	} else if full {
		fields["due_date"] = "this field is required"
	}
	if input.Priority != nil {
		task.Priority = *input.Priority
	}
	if input.Status != nil {
		task.Status = *input.Status
	}

	if _, missing := fields["title"]; !missing {
		switch {
		case task.Title == "":
			fields["title"] = "this field may not be blank"
		case len([]rune(task.Title)) > maxTitleLength:
			fields["title"] = "ensure this field has no more than 200 characters"
		}
	}
	if !task.Priority.Valid() {
		fields["priority"] = "must be one of LOW, MEDIUM, HIGH"
	}
	if !task.Status.Valid() {
		fields["status"] = "must be one of PENDING, IN_PROGRESS, COMPLETED"
	}

	if input.AssignedTo.Set {
		if input.AssignedTo.Value == nil {
			task.AssignedTo = nil
		} else {
			assignee, err := s.users.GetByID(ctx, *input.AssignedTo.Value)
			switch {
			case errors.Is(err, domain.ErrUserNotFound):
				fields["assigned_to"] = "user does not exist"
			case err != nil:
				return err
			default:
				ref := assignee.Ref()
				task.AssignedTo = &ref
			}
		}
	}

	if len(fields) > 0 {
		return domain.ValidationError(fields)
	}
	return nil
}

func (s *taskService) publish(ctx context.Context, id int64, action domain.TaskAction) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, domain.TaskEvent{TaskID: id, Action: action})
	s.logger.WithFields(logrus.Fields{"task_id": id, "action": action}).Debug("task event published")
}
