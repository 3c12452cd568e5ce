package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/domain"
	"taskhub/internal/repository"
	"taskhub/internal/repository/sqlite"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TaskEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.TaskEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []domain.TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TaskEvent(nil), p.events...)
}

type env struct {
	tasks     TaskService
	users     UserService
	roles     RoleService
	publisher *recordingPublisher
	taskRepo  repository.TaskRepository
	userRepo  repository.UserRepository

	admin   *domain.User
	manager *domain.User
	alice   *domain.User
	bob     *domain.User
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	roleRepo := sqlite.NewRoleRepository(db)
	userRepo := sqlite.NewUserRepository(db)
	taskRepo := sqlite.NewTaskRepository(db)
	require.NoError(t, roleRepo.Init(ctx))
	require.NoError(t, userRepo.Init(ctx))
	require.NoError(t, taskRepo.Init(ctx))

	logger := quietLogger()
	pub := &recordingPublisher{}
	e := &env{
		tasks:     NewTaskService(taskRepo, userRepo, pub, logger),
		users:     NewUserService(userRepo, roleRepo, taskRepo, pub, logger),
		roles:     NewRoleService(roleRepo, userRepo, logger),
		publisher: pub,
		taskRepo:  taskRepo,
		userRepo:  userRepo,
	}
	require.NoError(t, e.roles.EnsureDefaults(ctx))

	admin, created, err := e.users.EnsureAdmin(ctx, "admin", "admin@example.com", "admin-password")
	require.NoError(t, err)
	require.True(t, created)
	e.admin = admin

	e.manager = e.createUser(t, "manager", domain.RoleNameTaskManager)
	e.alice = e.createUser(t, "alice", domain.RoleNameUser)
	e.bob = e.createUser(t, "bob", domain.RoleNameUser)
	return e
}

func (e *env) createUser(t *testing.T, username, roleName string) *domain.User {
	t.Helper()
	roles, err := e.roles.List(context.Background(), e.admin)
	require.NoError(t, err)
	var roleID int64
	for _, r := range roles {
		if r.Name == roleName {
			roleID = r.ID
		}
	}
	require.NotZero(t, roleID)

	email := username + "@example.com"
	password := username + "-password"
	user, err := e.users.Create(context.Background(), e.admin, UserInput{
		Username: &username,
		Email:    &email,
		Password: &password,
		RoleID:   OptionalID{Set: true, Value: &roleID},
	})
	require.NoError(t, err)
	return user
}

func ptr[T any](v T) *T { return &v }

func newTaskInput(title string, assignee *domain.User) TaskInput {
	input := TaskInput{
		Title:   ptr(title),
		DueDate: ptr(time.Date(2030, 1, 2, 15, 0, 0, 0, time.UTC)),
	}
	if assignee != nil {
		input.AssignedTo = OptionalID{Set: true, Value: ptr(assignee.ID)}
	}
	return input
}

func TestCreateTaskAppliesDefaultsAndPublishes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	task, err := e.tasks.CreateTask(ctx, e.manager, newTaskInput("write report", e.alice))
	require.NoError(t, err)

	assert.Equal(t, domain.TaskPriorityMedium, task.Priority)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, e.manager.ID, task.CreatedBy.ID)
	require.NotNil(t, task.AssignedTo)
	assert.Equal(t, e.alice.ID, task.AssignedTo.ID)

	assert.Equal(t, []domain.TaskEvent{{TaskID: task.ID, Action: domain.TaskActionCreated}}, e.publisher.Events())
}

func TestCreateTaskValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tasks.CreateTask(ctx, e.manager, TaskInput{Title: ptr("   ")})
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodeInvalid, derr.Code)
	assert.Contains(t, derr.Fields, "title")
	assert.Contains(t, derr.Fields, "due_date")

	input := newTaskInput("ok", nil)
	input.Priority = ptr(domain.TaskPriority("URGENT"))
	input.AssignedTo = OptionalID{Set: true, Value: ptr(int64(9999))}
	_, err = e.tasks.CreateTask(ctx, e.manager, input)
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Fields, "priority")
	assert.Equal(t, "user does not exist", derr.Fields["assigned_to"])

	assert.Empty(t, e.publisher.Events())
}

func TestPlainUserIsReadOnlyAndScoped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	mine, err := e.tasks.CreateTask(ctx, e.manager, newTaskInput("mine", e.alice))
	require.NoError(t, err)
	other, err := e.tasks.CreateTask(ctx, e.manager, newTaskInput("other", e.bob))
	require.NoError(t, err)
	before := len(e.publisher.Events())

	_, err = e.tasks.CreateTask(ctx, e.alice, newTaskInput("nope", nil))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.tasks.UpdateTask(ctx, e.alice, mine.ID, TaskInput{Status: ptr(domain.TaskStatusCompleted)}, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.ErrorIs(t, e.tasks.DeleteTask(ctx, e.alice, mine.ID), domain.ErrForbidden)

	got, err := e.tasks.GetTask(ctx, e.alice, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Title)

	_, err = e.tasks.GetTask(ctx, e.alice, other.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	list, err := e.tasks.ListTasks(ctx, e.alice, repository.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	assert.Len(t, e.publisher.Events(), before)
}

func TestUpdateTaskFullAndPartial(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	task, err := e.tasks.CreateTask(ctx, e.manager, newTaskInput("draft", e.alice))
	require.NoError(t, err)

	_, err = e.tasks.UpdateTask(ctx, e.manager, task.ID, TaskInput{Title: ptr("no due date")}, false)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))

	updated, err := e.tasks.UpdateTask(ctx, e.manager, task.ID, TaskInput{Status: ptr(domain.TaskStatusInProgress)}, true)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, updated.Status)
	assert.Equal(t, "draft", updated.Title)
	require.NotNil(t, updated.AssignedTo)

	cleared, err := e.tasks.UpdateTask(ctx, e.manager, task.ID, TaskInput{AssignedTo: OptionalID{Set: true}}, true)
	require.NoError(t, err)
	assert.Nil(t, cleared.AssignedTo)
	assert.Equal(t, e.manager.ID, cleared.CreatedBy.ID)

	events := e.publisher.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.TaskActionUpdated, events[1].Action)
	assert.Equal(t, domain.TaskActionUpdated, events[2].Action)
}

func TestDeleteTaskPublishesAndRemoves(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	task, err := e.tasks.CreateTask(ctx, e.admin, newTaskInput("temp", nil))
	require.NoError(t, err)

	require.NoError(t, e.tasks.DeleteTask(ctx, e.manager, task.ID))
	_, err = e.tasks.LookupTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	assert.ErrorIs(t, e.tasks.DeleteTask(ctx, e.manager, task.ID), domain.ErrTaskNotFound)

	events := e.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.TaskEvent{TaskID: task.ID, Action: domain.TaskActionDeleted}, events[1])
}

func TestInactiveUserHasNoAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.users.Update(ctx, e.admin, e.manager.ID, UserInput{IsActive: ptr(false)}, true)
	require.NoError(t, err)
	manager, err := e.users.GetByID(ctx, e.manager.ID)
	require.NoError(t, err)

	_, err = e.tasks.ListTasks(ctx, manager, repository.TaskFilter{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.users.Authenticate(ctx, "manager", "manager-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestListTasksRejectsUnknownOrdering(t *testing.T) {
	e := newEnv(t)
	_, err := e.tasks.ListTasks(context.Background(), e.admin, repository.TaskFilter{Ordering: "-password"})
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Fields, "ordering")
}

func TestUserAdministrationIsAdminOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	users, err := e.users.List(ctx, e.manager)
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = e.users.List(ctx, e.admin)
	require.NoError(t, err)
	assert.Len(t, users, 4)
	for _, u := range users {
		assert.Empty(t, u.PasswordHash)
	}

	_, err = e.users.Get(ctx, e.manager, e.alice.ID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = e.users.Create(ctx, e.manager, UserInput{Username: ptr("eve"), Password: ptr("long-enough")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.ErrorIs(t, e.users.Delete(ctx, e.alice, e.bob.ID), domain.ErrForbidden)

	roles, err := e.roles.List(ctx, e.alice)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestCreateUserValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.users.Create(ctx, e.admin, UserInput{
		Username: ptr("carol"),
		Email:    ptr("not-an-email"),
		Password: ptr("short"),
		RoleID:   OptionalID{Set: true, Value: ptr(int64(999))},
	})
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Fields, "email")
	assert.Contains(t, derr.Fields, "password")
	assert.Contains(t, derr.Fields, "role_id")

	_, err = e.users.Create(ctx, e.admin, UserInput{Username: ptr("alice"), Password: ptr("long-enough")})
	assert.ErrorIs(t, err, domain.ErrUserExists)
}

func TestDeleteUserPublishesCascadeEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	owned, err := e.tasks.CreateTask(ctx, e.manager, newTaskInput("owned", nil))
	require.NoError(t, err)
	assigned, err := e.tasks.CreateTask(ctx, e.admin, newTaskInput("assigned", e.manager))
	require.NoError(t, err)
	before := len(e.publisher.Events())

	require.NoError(t, e.users.Delete(ctx, e.admin, e.manager.ID))

	events := e.publisher.Events()[before:]
	assert.ElementsMatch(t, []domain.TaskEvent{
		{TaskID: owned.ID, Action: domain.TaskActionDeleted},
		{TaskID: assigned.ID, Action: domain.TaskActionUpdated},
	}, events)

	_, err = e.tasks.LookupTask(ctx, owned.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	survivor, err := e.tasks.LookupTask(ctx, assigned.ID)
	require.NoError(t, err)
	assert.Nil(t, survivor.AssignedTo)
}

func TestEnsureAdminAndDefaultsAreIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.roles.EnsureDefaults(ctx))
	roles, err := e.roles.List(ctx, e.admin)
	require.NoError(t, err)
	assert.Len(t, roles, len(domain.CanonicalRoleNames))

	admin, created, err := e.users.EnsureAdmin(ctx, "admin", "", "another-password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e.admin.ID, admin.ID)
	assert.Equal(t, domain.RoleAdmin, admin.RoleKind())
}

func TestRoleServiceValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.roles.Create(ctx, e.admin, " ")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))

	_, err = e.roles.Create(ctx, e.admin, domain.RoleNameUser)
	assert.ErrorIs(t, err, domain.ErrRoleExists)

	_, err = e.roles.Create(ctx, e.manager, "auditor")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	role, err := e.roles.Create(ctx, e.admin, "auditor")
	require.NoError(t, err)
	renamed, err := e.roles.Update(ctx, e.admin, role.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "reviewer", renamed.Name)
	require.NoError(t, e.roles.Delete(ctx, e.admin, role.ID))

	_, err = e.roles.Get(ctx, e.admin, role.ID)
	assert.ErrorIs(t, err, domain.ErrRoleNotFound)
}

// unreadableTasks commits writes but fails every read.
type unreadableTasks struct {
	repository.TaskRepository
}

func (unreadableTasks) Get(context.Context, int64) (*domain.Task, error) {
	return nil, errors.New("database is locked")
}

func TestCommittedWritesSurviveFailedReload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tasks := NewTaskService(unreadableTasks{e.taskRepo}, e.userRepo, e.publisher, quietLogger())

	created, err := tasks.CreateTask(ctx, e.manager, newTaskInput("Durable", e.alice))
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	assert.Equal(t, "Durable", created.Title)

	updated, err := tasks.UpdateTask(ctx, e.manager, created.ID, TaskInput{Status: ptr(domain.TaskStatusCompleted)}, true)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, updated.Status)

	stored, err := e.tasks.GetTask(ctx, e.manager, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.Len(t, e.publisher.Events(), 2)
}

func TestAuthorizeUpdate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	task, err := e.tasks.CreateTask(ctx, e.manager, newTaskInput("Check", e.alice))
	require.NoError(t, err)

	assert.NoError(t, e.tasks.AuthorizeUpdate(ctx, e.manager, task.ID))
	assert.ErrorIs(t, e.tasks.AuthorizeUpdate(ctx, e.bob, task.ID), domain.ErrForbidden)
	assert.ErrorIs(t, e.tasks.AuthorizeUpdate(ctx, e.alice, task.ID), domain.ErrForbidden)
	assert.ErrorIs(t, e.tasks.AuthorizeUpdate(ctx, e.manager, 999), domain.ErrTaskNotFound)
}

func TestRoleServiceProtectsHeldRoles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, role := range []*domain.Role{e.admin.Role, e.alice.Role} {
		_, err := e.roles.Update(ctx, e.admin, role.ID, "boss")
		assert.ErrorIs(t, err, domain.ErrRoleBuiltIn)
		assert.ErrorIs(t, e.roles.Delete(ctx, e.admin, role.ID), domain.ErrRoleBuiltIn)
	}
	same, err := e.roles.Update(ctx, e.admin, e.admin.Role.ID, domain.RoleNameAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNameAdmin, same.Name)

	_, err = e.tasks.ListTasks(ctx, e.admin, repository.TaskFilter{})
	require.NoError(t, err)

	auditor, err := e.roles.Create(ctx, e.admin, "auditor")
	require.NoError(t, err)
	_, err = e.users.Update(ctx, e.admin, e.bob.ID, UserInput{RoleID: OptionalID{Set: true, Value: &auditor.ID}}, true)
	require.NoError(t, err)

	_, err = e.roles.Update(ctx, e.admin, auditor.ID, "user")
	assert.ErrorIs(t, err, domain.ErrRoleInUse)
	assert.ErrorIs(t, e.roles.Delete(ctx, e.admin, auditor.ID), domain.ErrRoleInUse)

	_, err = e.users.Update(ctx, e.admin, e.bob.ID, UserInput{RoleID: OptionalID{Set: true, Value: &e.alice.Role.ID}}, true)
	require.NoError(t, err)
	require.NoError(t, e.roles.Delete(ctx, e.admin, auditor.ID))
}

func TestAuthServiceTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	auth, err := NewAuthService(e.users, AuthConfig{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = auth.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	pair, err := auth.Login(ctx, "alice", "alice-password")
	require.NoError(t, err)

	id, err := auth.Parse(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, e.alice.ID, id)

	_, err = auth.Parse(pair.Refresh)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnauthorized))

	access, err := auth.Refresh(ctx, pair.Refresh)
	require.NoError(t, err)
	id, err = auth.Parse(access)
	require.NoError(t, err)
	assert.Equal(t, e.alice.ID, id)

	_, err = auth.Refresh(ctx, pair.Access)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnauthorized))

	other, err := NewAuthService(e.users, AuthConfig{Secret: "other-secret"})
	require.NoError(t, err)
	_, err = other.Parse(pair.Access)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnauthorized))
}

func TestAuthServiceExpiry(t *testing.T) {
	e := newEnv(t)
	auth, err := NewAuthService(e.users, AuthConfig{Secret: "test-secret", AccessTTL: time.Minute})
	require.NoError(t, err)

	pair, err := auth.Login(context.Background(), "bob", "bob-password")
	require.NoError(t, err)

	auth.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = auth.Parse(pair.Access)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnauthorized))
}
