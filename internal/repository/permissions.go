package repository

import (
	"context"
	"fmt"
	"strings"
)

// ActiveToolNames returns the names of all active MCP tools. Admin users see
// exactly this set.
func (r *Repository) ActiveToolNames(ctx context.Context) ([]string, error) {
	return r.queryNames(ctx, `SELECT name FROM mcp_tools WHERE is_active = 1 ORDER BY name`)
}

// ActiveSkillNames returns the names of all active skills.
func (r *Repository) ActiveSkillNames(ctx context.Context) ([]string, error) {
	return r.queryNames(ctx, `SELECT name FROM skills WHERE is_active = 1 ORDER BY name`)
}

// PermittedToolNames resolves the tool names granted through the given roles,
// minus any tool the department has explicitly blocked.
func (r *Repository) PermittedToolNames(ctx context.Context, roleIDs []int64, departmentID int64) ([]string, error) {
	return r.permittedNames(ctx, "mcp_tools", "role_tool_permissions", "department_tool_permissions", "tool_id", roleIDs, departmentID)
}

// PermittedSkillNames resolves skill names symmetrically to tools.
func (r *Repository) PermittedSkillNames(ctx context.Context, roleIDs []int64, departmentID int64) ([]string, error) {
	return r.permittedNames(ctx, "skills", "role_skill_permissions", "department_skill_permissions", "skill_id", roleIDs, departmentID)
}

func (r *Repository) permittedNames(ctx context.Context, itemTable, roleTable, deptTable, fkColumn string, roleIDs []int64, departmentID int64) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roleIDs)), ",")
	args := make([]any, 0, len(roleIDs)+1)
	for _, id := range roleIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT i.name
		FROM %s i
		JOIN %s rp ON rp.%s = i.id AND rp.can_use = 1
		WHERE i.is_active = 1 AND rp.role_id IN (%s)`,
		itemTable, roleTable, fkColumn, placeholders)
	if departmentID != 0 {
		query += fmt.Sprintf(`
		AND i.id NOT IN (
			SELECT dp.%s FROM %s dp
			WHERE dp.department_id = ? AND dp.is_allowed = 0
		)`, fkColumn, deptTable)
		args = append(args, departmentID)
	}
	query += ` ORDER BY i.name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GrantRoleTool upserts a role's can_use flag for an MCP tool.
func (r *Repository) GrantRoleTool(ctx context.Context, roleID, toolID int64, canUse bool) error {
	return r.upsertPermission(ctx,
		`INSERT INTO role_tool_permissions (role_id, tool_id, can_use) VALUES (?, ?, ?)
		 ON CONFLICT (role_id, tool_id) DO UPDATE SET can_use = excluded.can_use`,
		roleID, toolID, canUse)
}

// BlockDepartmentTool upserts a department's is_allowed flag for an MCP tool.
func (r *Repository) BlockDepartmentTool(ctx context.Context, departmentID, toolID int64, isAllowed bool) error {
	return r.upsertPermission(ctx,
		`INSERT INTO department_tool_permissions (department_id, tool_id, is_allowed) VALUES (?, ?, ?)
		 ON CONFLICT (department_id, tool_id) DO UPDATE SET is_allowed = excluded.is_allowed`,
		departmentID, toolID, isAllowed)
}

// GrantRoleSkill upserts a role's can_use flag for a skill.
func (r *Repository) GrantRoleSkill(ctx context.Context, roleID, skillID int64, canUse bool) error {
	return r.upsertPermission(ctx,
		`INSERT INTO role_skill_permissions (role_id, skill_id, can_use) VALUES (?, ?, ?)
		 ON CONFLICT (role_id, skill_id) DO UPDATE SET can_use = excluded.can_use`,
		roleID, skillID, canUse)
}

// BlockDepartmentSkill upserts a department's is_allowed flag for a skill.
func (r *Repository) BlockDepartmentSkill(ctx context.Context, departmentID, skillID int64, isAllowed bool) error {
	return r.upsertPermission(ctx,
		`INSERT INTO department_skill_permissions (department_id, skill_id, is_allowed) VALUES (?, ?, ?)
		 ON CONFLICT (department_id, skill_id) DO UPDATE SET is_allowed = excluded.is_allowed`,
		departmentID, skillID, isAllowed)
}

func (r *Repository) upsertPermission(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

func (r *Repository) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
