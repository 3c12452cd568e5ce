package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskhub/internal/domain"
	"taskhub/internal/repository"
)

const createRolesTable = `
CREATE TABLE IF NOT EXISTS roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
`

type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) repository.RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRolesTable); err != nil {
		return fmt.Errorf("create roles table: %w", err)
	}
	return nil
}

func (r *RoleRepository) Create(ctx context.Context, role *domain.Role) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO roles (name) VALUES (?)`, role.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.WrapError(domain.ErrCodeConflict, domain.ErrRoleExists.Message, err)
		}
		return 0, fmt.Errorf("insert role: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("role last insert id: %w", err)
	}
	role.ID = id
	return id, nil
}

func (r *RoleRepository) Update(ctx context.Context, role *domain.Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE roles SET name=? WHERE id=?`, role.Name, role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrCodeConflict, domain.ErrRoleExists.Message, err)
		}
		return fmt.Errorf("update role: %w", err)
	}
	return expectAffected(res, domain.ErrRoleNotFound)
}

func (r *RoleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return expectAffected(res, domain.ErrRoleNotFound)
}

func (r *RoleRepository) GetByID(ctx context.Context, id int64) (*domain.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE id=?`, id))
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, `SELECT id, name FROM roles WHERE name=?`, name))
}

func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM roles ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := []domain.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

func scanRole(row interface {
	Scan(dest ...any) error
}) (*domain.Role, error) {
	var role domain.Role
	if err := row.Scan(&role.ID, &role.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &role, nil
}

func expectAffected(res sql.Result, notFound error) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if aff == 0 {
		return notFound
	}
	return nil
}
