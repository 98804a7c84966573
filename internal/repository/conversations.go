package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deepserve/deepserve/pkg/models"
)

// CreateConversation inserts a new conversation owned by userID with an
// initialized empty state.
func (r *Repository) CreateConversation(ctx context.Context, userID int64, title string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  title,
		State: models.ConversationState{
			Todos:   []models.Todo{},
			Uploads: map[string]string{},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	state, err := json.Marshal(conv.State)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.UserID, conv.Title, string(state), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads a conversation by id.
func (r *Repository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, archived, starred, state, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

// ListConversations returns the caller's conversations, newest first.
// Archived conversations are excluded unless includeArchived is set.
func (r *Repository) ListConversations(ctx context.Context, userID int64, includeArchived bool, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, title, archived, starred, state, created_at, updated_at
		FROM conversations WHERE user_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// UpdateConversationTitle writes a new title and bumps updated_at.
func (r *Repository) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return r.updateConversation(ctx, id, `title = ?`, title)
}

// SetConversationArchived toggles the archived flag.
func (r *Repository) SetConversationArchived(ctx context.Context, id string, archived bool) error {
	return r.updateConversation(ctx, id, `archived = ?`, archived)
}

// SetConversationStarred toggles the starred flag.
func (r *Repository) SetConversationStarred(ctx context.Context, id string, starred bool) error {
	return r.updateConversation(ctx, id, `starred = ?`, starred)
}

// SaveConversationState replaces the state blob (todos and upload
// bookkeeping) and bumps updated_at.
func (r *Repository) SaveConversationState(ctx context.Context, id string, state models.ConversationState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return r.updateConversation(ctx, id, `state = ?`, string(encoded))
}

// DeleteConversation removes a conversation and its messages.
func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) updateConversation(ctx context.Context, id, setClause string, value any) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET `+setClause+`, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var state string
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Archived, &conv.Starred,
		&state, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &conv.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if conv.State.Todos == nil {
		conv.State.Todos = []models.Todo{}
	}
	if conv.State.Uploads == nil {
		conv.State.Uploads = map[string]string{}
	}
	return &conv, nil
}
