package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepserve/deepserve/pkg/models"
)

// NextStepOrder returns one greater than the conversation's current maximum
// step_order, or 1 for an empty conversation.
func (r *Repository) NextStepOrder(ctx context.Context, conversationID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(step_order) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next step order: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// InsertMessage persists one message row at its step order.
func (r *Repository) InsertMessage(ctx context.Context, msg *models.Message) error {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(encoded)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, step_order, role, content, tool_calls,
			tool_name, tool_call_id, tool_return_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ConversationID, msg.StepOrder, string(msg.Role), msg.Content, toolCalls,
		nullIfEmpty(msg.ToolName), nullIfEmpty(msg.ToolCallID), nullIfEmpty(msg.ToolReturnContent), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()
	return nil
}

// ListMessages returns a conversation's messages ordered by step_order.
// limit <= 0 means no limit.
func (r *Repository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, step_order, role, content, tool_calls,
			tool_name, tool_call_id, tool_return_content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY step_order`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var toolCalls, toolName, toolCallID, toolReturn sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.StepOrder, &role, &msg.Content,
			&toolCalls, &toolName, &toolCallID, &toolReturn, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.MessageRole(role)
		msg.ToolName = toolName.String
		msg.ToolCallID = toolCallID.String
		msg.ToolReturnContent = toolReturn.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// FirstUserMessage returns the earliest user row of a conversation, used by
// title generation.
func (r *Repository) FirstUserMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	msgs, err := r.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.Role == models.RoleUser {
			return msg, nil
		}
	}
	return nil, ErrNotFound
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
