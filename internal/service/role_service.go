package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
	"taskhub/internal/repository"
)

const maxRoleNameLength = 50

// RoleService manages role rows. Only the canonical role names carry permissions.
type RoleService interface {
	EnsureDefaults(ctx context.Context) error
	List(ctx context.Context, actor *domain.User) ([]domain.Role, error)
	Get(ctx context.Context, actor *domain.User, id int64) (*domain.Role, error)
	Create(ctx context.Context, actor *domain.User, name string) (*domain.Role, error)
	Update(ctx context.Context, actor *domain.User, id int64, name string) (*domain.Role, error)
	Delete(ctx context.Context, actor *domain.User, id int64) error
}

type roleService struct {
	roles  repository.RoleRepository
	users  repository.UserRepository
	logger *logrus.Logger
}

func NewRoleService(roles repository.RoleRepository, users repository.UserRepository, logger *logrus.Logger) RoleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &roleService{roles: roles, users: users, logger: logger}
}

// EnsureDefaults creates any missing canonical role.
func (s *roleService) EnsureDefaults(ctx context.Context) error {
	for _, name := range domain.CanonicalRoleNames {
		_, err := s.roles.GetByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrRoleNotFound) {
			return err
		}
		if _, err := s.roles.Create(ctx, &domain.Role{Name: name}); err != nil && !domain.IsDomainError(err, domain.ErrCodeConflict) {
			return err
		}
		s.logger.Infof("created role %q", name)
	}
	return nil
}

func (s *roleService) List(ctx context.Context, actor *domain.User) ([]domain.Role, error) {
	if !authz.Allow(actor, authz.ActionList, authz.ResourceRoles) {
		return nil, domain.ErrForbidden
	}
	if authz.AdminScope(actor).Kind != authz.ScopeAll {
		return []domain.Role{}, nil
	}
	return s.roles.List(ctx)
}

func (s *roleService) Get(ctx context.Context, actor *domain.User, id int64) (*domain.Role, error) {
	if authz.AdminScope(actor).Kind != authz.ScopeAll {
		return nil, domain.ErrRoleNotFound
	}
	return s.roles.GetByID(ctx, id)
}

func (s *roleService) Create(ctx context.Context, actor *domain.User, name string) (*domain.Role, error) {
	if !authz.Allow(actor, authz.ActionCreate, authz.ResourceRoles) {
		return nil, domain.ErrForbidden
	}
	role := &domain.Role{}
	if err := applyRoleName(role, name); err != nil {
		return nil, err
	}
	if _, err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *roleService) Update(ctx context.Context, actor *domain.User, id int64, name string) (*domain.Role, error) {
	if !authz.Allow(actor, authz.ActionUpdate, authz.ResourceRoles) {
		return nil, domain.ErrForbidden
	}
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	current := role.Name
	if err := applyRoleName(role, name); err != nil {
		return nil, err
	}
	if role.Name == current {
		return role, nil
	}
	if err := s.ensureMutable(ctx, role.ID, current); err != nil {
		return nil, err
	}
	if err := s.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// Delete removes a role nobody holds.
func (s *roleService) Delete(ctx context.Context, actor *domain.User, id int64) error {
	if !authz.Allow(actor, authz.ActionDelete, authz.ResourceRoles) {
		return domain.ErrForbidden
	}
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ensureMutable(ctx, role.ID, role.Name); err != nil {
		return err
	}
	return s.roles.Delete(ctx, id)
}

// ensureMutable rejects changes to canonical roles and to roles users still hold.
func (s *roleService) ensureMutable(ctx context.Context, id int64, name string) error {
	if domain.ParseRoleKind(name) != domain.RoleNone {
		return domain.ErrRoleBuiltIn
	}
	holders, err := s.users.CountByRole(ctx, id)
	if err != nil {
		return err
	}
	if holders > 0 {
		return domain.ErrRoleInUse
	}
	return nil
}

func applyRoleName(role *domain.Role, name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return domain.ValidationError(map[string]string{"name": "this field may not be blank"})
	case len([]rune(name)) > maxRoleNameLength:
		return domain.ValidationError(map[string]string{"name": "ensure this field has no more than 50 characters"})
	}
	role.Name = name
	return nil
}
