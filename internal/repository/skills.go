package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepserve/deepserve/pkg/models"
)

// UpsertSkill registers or refreshes a skill row keyed by name.
func (r *Repository) UpsertSkill(ctx context.Context, skill *models.SkillRecord) error {
	if skill.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	var tags any
	if len(skill.Tags) > 0 {
		encoded, err := json.Marshal(skill.Tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		tags = string(encoded)
	}
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO skills (name, description, version, author, tags, path, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			version = excluded.version,
			author = excluded.author,
			tags = excluded.tags,
			path = excluded.path,
			updated_at = excluded.updated_at
	`, skill.Name, skill.Description, skill.Version, skill.Author, tags, skill.Path,
		skill.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("upsert skill: %w", err)
	}
	if id, _ := result.LastInsertId(); id != 0 {
		skill.ID = id
	}
	return nil
}

// GetSkill loads one skill row by name.
func (r *Repository) GetSkill(ctx context.Context, name string) (*models.SkillRecord, error) {
	row := r.db.QueryRowContext(ctx, selectSkill+` WHERE name = ?`, name)
	return scanSkill(row)
}

// ListSkills returns skill rows ordered by name.
func (r *Repository) ListSkills(ctx context.Context, includeInactive bool) ([]*models.SkillRecord, error) {
	query := selectSkill
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*models.SkillRecord
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, skill)
	}
	return out, rows.Err()
}

// SetSkillActive toggles a skill's is_active flag.
func (r *Repository) SetSkillActive(ctx context.Context, name string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE skills SET is_active = ?, updated_at = ? WHERE name = ?`,
		active, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("set skill active: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectSkill = `
	SELECT id, name, description, version, author, tags, path, is_active, created_at, updated_at
	FROM skills`

func scanSkill(row rowScanner) (*models.SkillRecord, error) {
	var skill models.SkillRecord
	var tags sql.NullString
	err := row.Scan(&skill.ID, &skill.Name, &skill.Description, &skill.Version, &skill.Author,
		&tags, &skill.Path, &skill.IsActive, &skill.CreatedAt, &skill.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan skill: %w", err)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &skill.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &skill, nil
}
