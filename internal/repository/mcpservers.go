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

// ValidateMCPServer checks the transport-specific required fields.
func ValidateMCPServer(server *models.MCPServer) error {
	if server.Name == "" {
		return fmt.Errorf("server name is required")
	}
	switch server.Transport {
	case models.TransportStdio:
		if server.Command == "" {
			return fmt.Errorf("stdio servers require a command")
		}
	case models.TransportHTTP, models.TransportSSE:
		if server.URL == "" {
			return fmt.Errorf("%s servers require a url", server.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", server.Transport)
	}
	return nil
}

// CreateMCPServer inserts a server configuration.
func (r *Repository) CreateMCPServer(ctx context.Context, server *models.MCPServer) error {
	if err := ValidateMCPServer(server); err != nil {
		return err
	}
	args, env, err := encodeServerFields(server)
	if err != nil {
		return err
	}
	if server.TimeoutSeconds <= 0 {
		server.TimeoutSeconds = 120
	}
	now := time.Now().UTC()
	server.CreatedAt, server.UpdatedAt = now, now

	var createdBy any
	if server.CreatedBy != 0 {
		createdBy = server.CreatedBy
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (name, description, transport, command, args, env, url,
			timeout_seconds, is_active, is_builtin, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, server.Name, server.Description, string(server.Transport), server.Command, args, env,
		server.URL, server.TimeoutSeconds, server.IsActive, server.IsBuiltin, createdBy,
		server.CreatedAt, server.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mcp server: %w", err)
	}
	server.ID, _ = result.LastInsertId()
	return nil
}

// UpdateMCPServer rewrites a server configuration by name.
func (r *Repository) UpdateMCPServer(ctx context.Context, server *models.MCPServer) error {
	if err := ValidateMCPServer(server); err != nil {
		return err
	}
	args, env, err := encodeServerFields(server)
	if err != nil {
		return err
	}
	server.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE mcp_servers SET description = ?, transport = ?, command = ?, args = ?, env = ?,
			url = ?, timeout_seconds = ?, is_active = ?, updated_at = ?
		WHERE name = ?
	`, server.Description, string(server.Transport), server.Command, args, env, server.URL,
		server.TimeoutSeconds, server.IsActive, server.UpdatedAt, server.Name)
	if err != nil {
		return fmt.Errorf("update mcp server: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateMCPServer soft-deletes a server (is_active = false).
func (r *Repository) DeactivateMCPServer(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE mcp_servers SET is_active = 0, updated_at = ? WHERE name = ?`,
		time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("deactivate mcp server: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMCPServer loads one server by name.
func (r *Repository) GetMCPServer(ctx context.Context, name string) (*models.MCPServer, error) {
	row := r.db.QueryRowContext(ctx, selectMCPServer+` WHERE name = ?`, name)
	return scanMCPServer(row)
}

// ListMCPServers returns servers ordered by name, active only unless
// includeInactive is set.
func (r *Repository) ListMCPServers(ctx context.Context, includeInactive bool) ([]*models.MCPServer, error) {
	query := selectMCPServer
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []*models.MCPServer
	for rows.Next() {
		server, err := scanMCPServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	return out, rows.Err()
}

// RegisterMCPTool records one tool exposed by a server so permissions can
// reference it.
func (r *Repository) RegisterMCPTool(ctx context.Context, serverID int64, name, description string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO mcp_tools (server_id, name, description) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET server_id = excluded.server_id, description = excluded.description
	`, serverID, name, description)
	if err != nil {
		return 0, fmt.Errorf("register mcp tool: %w", err)
	}
	id, _ := result.LastInsertId()
	return id, nil
}

const selectMCPServer = `
	SELECT id, name, description, transport, command, args, env, url,
		timeout_seconds, is_active, is_builtin, created_by, created_at, updated_at
	FROM mcp_servers`

func scanMCPServer(row rowScanner) (*models.MCPServer, error) {
	var server models.MCPServer
	var transport string
	var args, env sql.NullString
	var createdBy sql.NullInt64
	err := row.Scan(&server.ID, &server.Name, &server.Description, &transport, &server.Command,
		&args, &env, &server.URL, &server.TimeoutSeconds, &server.IsActive, &server.IsBuiltin,
		&createdBy, &server.CreatedAt, &server.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mcp server: %w", err)
	}
	server.Transport = models.TransportType(transport)
	server.CreatedBy = createdBy.Int64
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &server.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &server.Env); err != nil {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return &server, nil
}

func encodeServerFields(server *models.MCPServer) (args, env any, err error) {
	if len(server.Args) > 0 {
		encoded, err := json.Marshal(server.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("encode args: %w", err)
		}
		args = string(encoded)
	}
	if len(server.Env) > 0 {
		encoded, err := json.Marshal(server.Env)
		if err != nil {
			return nil, nil, fmt.Errorf("encode env: %w", err)
		}
		env = string(encoded)
	}
	return args, env, nil
}
