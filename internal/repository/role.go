package repository

import (
	"context"

	"taskhub/internal/domain"
)

// RoleRepository manages the roles table.
type RoleRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, role *domain.Role) (int64, error)
	Update(ctx context.Context, role *domain.Role) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*domain.Role, error)
	GetByName(ctx context.Context, name string) (*domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
}
