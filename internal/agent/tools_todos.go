package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepserve/deepserve/pkg/models"
)

var todoStatusIcons = map[models.TodoStatus]string{
	models.TodoPending:    "[ ]",
	models.TodoInProgress: "[*]",
	models.TodoCompleted:  "[x]",
}

// ReadTodosTool returns the current todo list.
type ReadTodosTool struct {
	state *TurnState
}

// NewReadTodosTool creates the read_todos tool bound to a turn's state.
func NewReadTodosTool(state *TurnState) *ReadTodosTool {
	return &ReadTodosTool{state: state}
}

func (t *ReadTodosTool) Name() string { return "read_todos" }

func (t *ReadTodosTool) Description() string {
	return "读取当前的待办事项列表状态。返回所有待办事项及其当前状态 (pending, in_progress, completed)。"
}

func (t *ReadTodosTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ReadTodosTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if len(t.state.Todos) == 0 {
		return &ToolResult{Content: "No todos yet."}, nil
	}
	return &ToolResult{Content: formatTodos(t.state.Todos)}, nil
}

// WriteTodosTool replaces the turn's todo list.
type WriteTodosTool struct {
	state *TurnState
}

// NewWriteTodosTool creates the write_todos tool bound to a turn's state.
func NewWriteTodosTool(state *TurnState) *WriteTodosTool {
	return &WriteTodosTool{state: state}
}

func (t *WriteTodosTool) Name() string { return "write_todos" }

func (t *WriteTodosTool) Description() string {
	return "更新待办事项列表。将复杂任务分解为更小的步骤，一次只标记一个任务为进行中，完成后立即标记为已完成。"
}

func (t *WriteTodosTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"todos": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"content": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]},
						"active_form": {"type": "string"}
					},
					"required": ["content", "status"]
				}
			}
		},
		"required": ["todos"]
	}`)
}

func (t *WriteTodosTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Todos []models.Todo `json:"todos"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid todos payload: %v", err), nil
	}
	if err := models.ValidateTodos(input.Todos); err != nil {
		return Errorf("invalid todos: %v", err), nil
	}

	t.state.Todos = input.Todos

	var completed, inProgress, pending int
	for _, todo := range input.Todos {
		switch todo.Status {
		case models.TodoCompleted:
			completed++
		case models.TodoInProgress:
			inProgress++
		default:
			pending++
		}
	}
	summary := fmt.Sprintf("Updated %d todos (%d completed, %d in progress, %d pending)",
		len(input.Todos), completed, inProgress, pending)
	return &ToolResult{Content: summary + "\n\n" + formatTodos(input.Todos)}, nil
}

func formatTodos(todos []models.Todo) string {
	lines := make([]string, 0, len(todos))
	for _, todo := range todos {
		icon, ok := todoStatusIcons[todo.Status]
		if !ok {
			icon = "[ ]"
		}
		lines = append(lines, fmt.Sprintf("- %s %s", icon, todo.Content))
	}
	return strings.Join(lines, "\n")
}
