package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
	"taskhub/internal/notify"
	"taskhub/internal/repository"
)

const minPasswordLength = 8

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = domain.NewError(domain.ErrCodeUnauthorized, "invalid credentials")
)

// UserInput carries the writable user fields; nil pointers are "not provided".
type UserInput struct {
	Username *string
	Email    *string
	Password *string
	RoleID   OptionalID
	IsActive *bool
}

// UserService describes user lifecycle operations.
type UserService interface {
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	// Me returns the caller's own profile regardless of role.
	Me(ctx context.Context, actor *domain.User) (*domain.User, error)
	List(ctx context.Context, actor *domain.User) ([]domain.User, error)
	Get(ctx context.Context, actor *domain.User, id int64) (*domain.User, error)
	Create(ctx context.Context, actor *domain.User, input UserInput) (*domain.User, error)
	Update(ctx context.Context, actor *domain.User, id int64, input UserInput, partial bool) (*domain.User, error)
	Delete(ctx context.Context, actor *domain.User, id int64) error
	// EnsureAdmin creates an active admin account unless the username is taken.
	EnsureAdmin(ctx context.Context, username, email, password string) (*domain.User, bool, error)
}

type userService struct {
	users     repository.UserRepository
	roles     repository.RoleRepository
	tasks     repository.TaskRepository
	publisher notify.Publisher
	logger    *logrus.Logger
}

func NewUserService(users repository.UserRepository, roles repository.RoleRepository, tasks repository.TaskRepository, publisher notify.Publisher, logger *logrus.Logger) UserService {
	if logger == nil {
		logger = logrus.New()
	}
	return &userService{
		users:     users,
		roles:     roles,
		tasks:     tasks,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) Me(ctx context.Context, actor *domain.User) (*domain.User, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	return s.GetByID(ctx, actor.ID)
}

// List returns every user for admins and an empty list for everyone else.
func (s *userService) List(ctx context.Context, actor *domain.User) ([]domain.User, error) {
	if !authz.Allow(actor, authz.ActionList, authz.ResourceUsers) {
		return nil, domain.ErrForbidden
	}
	if authz.AdminScope(actor).Kind != authz.ScopeAll {
		return []domain.User{}, nil
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = *sanitizeUser(&users[i])
	}
	return users, nil
}

func (s *userService) Get(ctx context.Context, actor *domain.User, id int64) (*domain.User, error) {
	if authz.AdminScope(actor).Kind != authz.ScopeAll {
		return nil, domain.ErrUserNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *userService) Create(ctx context.Context, actor *domain.User, input UserInput) (*domain.User, error) {
	if !authz.Allow(actor, authz.ActionCreate, authz.ResourceUsers) {
		return nil, domain.ErrForbidden
	}
	user := &domain.User{IsActive: true}
	if err := s.apply(ctx, user, input, true); err != nil {
		return nil, err
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Infof("user %s created by %s", user.Username, actor.Username)
	return s.GetByID(ctx, user.ID)
}

func (s *userService) Update(ctx context.Context, actor *domain.User, id int64, input UserInput, partial bool) (*domain.User, error) {
	if !authz.Allow(actor, authz.ActionUpdate, authz.ResourceUsers) {
		return nil, domain.ErrForbidden
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, user, input, !partial); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, user.ID)
}

// Delete removes the user. Tasks they created are removed by the datastore
// and tasks assigned to them are unassigned; both are announced on the bus.
func (s *userService) Delete(ctx context.Context, actor *domain.User, id int64) error {
	if !authz.Allow(actor, authz.ActionDelete, authz.ResourceUsers) {
		return domain.ErrForbidden
	}
	created, err := s.tasks.ListIDsByCreator(ctx, id)
	if err != nil {
		return err
	}
	assigned, err := s.tasks.ListIDsByAssignee(ctx, id)
	if err != nil {
		return err
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	if s.publisher != nil {
		for _, taskID := range created {
			s.publisher.Publish(ctx, domain.TaskEvent{TaskID: taskID, Action: domain.TaskActionDeleted})
		}
		for _, taskID := range assigned {
			s.publisher.Publish(ctx, domain.TaskEvent{TaskID: taskID, Action: domain.TaskActionUpdated})
		}
	}
	s.logger.WithField("user_id", id).Infof("user deleted by %s (%d tasks removed, %d unassigned)", actor.Username, len(created), len(assigned))
	return nil
}

func (s *userService) EnsureAdmin(ctx context.Context, username, email, password string) (*domain.User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, errors.New("admin username is required")
	}
	existing, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return sanitizeUser(existing), false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, err
	}

	role, err := s.roles.GetByName(ctx, domain.RoleNameAdmin)
	if err != nil {
		return nil, false, fmt.Errorf("load admin role: %w", err)
	}

	user := &domain.User{IsActive: true}
	input := UserInput{
		Username: &username,
		Email:    &email,
		Password: &password,
		RoleID:   OptionalID{Set: true, Value: &role.ID},
	}
	if err := s.apply(ctx, user, input, true); err != nil {
		return nil, false, err
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, false, err
	}
	return sanitizeUser(user), true, nil
}

func (s *userService) apply(ctx context.Context, user *domain.User, input UserInput, full bool) error {
	fields := map[string]string{}

	if input.Username != nil {
		user.Username = strings.TrimSpace(*input.Username)
		if user.Username == "" {
			fields["username"] = "this field may not be blank"
		}
	} else if full && user.ID == 0 {
		fields["username"] = "this field is required"
	}

	if input.Email != nil {
		email := strings.TrimSpace(*input.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				fields["email"] = "enter a valid email address"
			}
		}
		user.Email = email
	}

	if input.Password != nil {
		if len(*input.Password) < minPasswordLength {
			fields["password"] = fmt.Sprintf("password must be at least %d characters", minPasswordLength)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user.PasswordHash = string(hash)
		}
	} else if user.ID == 0 {
		fields["password"] = "this field is required"
	}

	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	if input.RoleID.Set {
		if input.RoleID.Value == nil {
			user.Role = nil
		} else {
			role, err := s.roles.GetByID(ctx, *input.RoleID.Value)
			switch {
			case errors.Is(err, domain.ErrRoleNotFound):
				fields["role_id"] = "role does not exist"
			case err != nil:
				return err
			default:
				user.Role = role
			}
		}
	}

	if len(fields) > 0 {
		return domain.ValidationError(fields)
	}
	return nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	var role *domain.Role
	if user.Role != nil {
		r := *user.Role
		role = &r
	}
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      role,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
