package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deepserve/deepserve/pkg/models"
)

// UpsertModelConfig registers or refreshes an LLM model configuration keyed
// by name. Marking a config default clears the flag on every other row.
func (r *Repository) UpsertModelConfig(ctx context.Context, cfg *models.LLMModelConfig) error {
	if cfg.Name == "" || cfg.Provider == "" || cfg.ModelID == "" {
		return fmt.Errorf("model config requires name, provider and model_id")
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	if cfg.IsDefault {
		if _, err := r.db.ExecContext(ctx, `UPDATE llm_model_configs SET is_default = 0`); err != nil {
			return fmt.Errorf("clear default model: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_model_configs (name, provider, model_id, base_url, api_key_env, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			provider = excluded.provider,
			model_id = excluded.model_id,
			base_url = excluded.base_url,
			api_key_env = excluded.api_key_env,
			is_default = excluded.is_default
	`, cfg.Name, cfg.Provider, cfg.ModelID, cfg.BaseURL, cfg.APIKeyEnv, cfg.IsDefault, cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert model config: %w", err)
	}
	if id, _ := result.LastInsertId(); id != 0 {
		cfg.ID = id
	}
	return nil
}

// GetModelConfig loads a model config by name. Empty name loads the default.
func (r *Repository) GetModelConfig(ctx context.Context, name string) (*models.LLMModelConfig, error) {
	query := selectModelConfig
	var args []any
	if name == "" {
		query += ` WHERE is_default = 1`
	} else {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	row := r.db.QueryRowContext(ctx, query, args...)
	return scanModelConfig(row)
}

// ListModelConfigs returns all model configs ordered by name.
func (r *Repository) ListModelConfigs(ctx context.Context) ([]*models.LLMModelConfig, error) {
	rows, err := r.db.QueryContext(ctx, selectModelConfig+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list model configs: %w", err)
	}
	defer rows.Close()

	var out []*models.LLMModelConfig
	for rows.Next() {
		cfg, err := scanModelConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

const selectModelConfig = `
	SELECT id, name, provider, model_id, base_url, api_key_env, is_default, created_at
	FROM llm_model_configs`

func scanModelConfig(row rowScanner) (*models.LLMModelConfig, error) {
	var cfg models.LLMModelConfig
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Provider, &cfg.ModelID, &cfg.BaseURL,
		&cfg.APIKeyEnv, &cfg.IsDefault, &cfg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan model config: %w", err)
	}
	return &cfg, nil
}
