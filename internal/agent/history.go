package agent

import (
	"context"
	"fmt"

	"github.com/deepserve/deepserve/pkg/models"
)

// HistoryStore is the slice of the repository the turn engine needs.
type HistoryStore interface {
	NextStepOrder(ctx context.Context, conversationID string) (int, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error)
	SaveConversationState(ctx context.Context, id string, state models.ConversationState) error
}

// ReadHistory reconstructs the model conversation from persisted rows.
// Rows arrive ordered by step; user rows become user messages, model rows
// assistant messages carrying their tool calls, and tool_return rows tool
// messages linked back to the call they answer.
func ReadHistory(ctx context.Context, store HistoryStore, conversationID string) ([]CompletionMessage, error) {
	rows, err := store.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	// Map call IDs to names so tool messages stay linkable even if the
	// tool_name column is empty on old rows.
	callNames := make(map[string]string)
	var history []CompletionMessage
	for _, row := range rows {
		switch row.Role {
		case models.RoleUser:
			history = append(history, CompletionMessage{Role: "user", Content: row.Content})
		case models.RoleModel:
			for _, call := range row.ToolCalls {
				callNames[call.ID] = call.Name
			}
			history = append(history, CompletionMessage{
				Role:      "assistant",
				Content:   row.Content,
				ToolCalls: row.ToolCalls,
			})
		case models.RoleToolReturn:
			name := row.ToolName
			if name == "" {
				name = callNames[row.ToolCallID]
			}
			history = append(history, CompletionMessage{
				Role:       "tool",
				Content:    row.ToolReturnContent,
				ToolCallID: row.ToolCallID,
				ToolName:   name,
			})
		}
	}
	return history, nil
}
