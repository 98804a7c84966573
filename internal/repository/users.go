package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deepserve/deepserve/pkg/models"
)

// GetUser loads a user with their role memberships.
func (r *Repository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	var department sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, is_admin, is_active, department_id, created_at
		FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.Email, &user.IsAdmin, &user.IsActive,
		&department, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.DepartmentID = department.Int64

	rows, err := r.db.QueryContext(ctx, `SELECT role_id FROM user_roles WHERE user_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get user roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		if err := rows.Scan(&roleID); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		user.RoleIDs = append(user.RoleIDs, roleID)
	}
	return &user, rows.Err()
}

// CreateUser inserts a user row. Used by seeding and tests.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	var department any
	if user.DepartmentID != 0 {
		department = user.DepartmentID
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, email, is_admin, is_active, department_id)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, user.Email, user.IsAdmin, user.IsActive, department)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID, _ = result.LastInsertId()

	for _, roleID := range user.RoleIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`,
			user.ID, roleID); err != nil {
			return fmt.Errorf("insert user role: %w", err)
		}
	}
	return nil
}

// CreateRole inserts a role and returns its id.
func (r *Repository) CreateRole(ctx context.Context, name string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO roles (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert role: %w", err)
	}
	id, _ := result.LastInsertId()
	return id, nil
}

// CreateDepartment inserts a department and returns its id.
func (r *Repository) CreateDepartment(ctx context.Context, name string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO departments (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert department: %w", err)
	}
	id, _ := result.LastInsertId()
	return id, nil
}
