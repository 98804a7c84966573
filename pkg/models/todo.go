package models

import "fmt"

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one entry in a conversation's task list. ActiveForm is the
// present-continuous phrasing shown while the item is in progress.
type Todo struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"active_form,omitempty"`
}

// ValidateTodos checks structural rules for a replacement todo list: every
// entry needs content and a known status, and at most one entry may be
// in_progress.
func ValidateTodos(todos []Todo) error {
	inProgress := 0
	for i, todo := range todos {
		if todo.Content == "" {
			return fmt.Errorf("todo %d: content is required", i)
		}
		switch todo.Status {
		case TodoPending, TodoInProgress, TodoCompleted:
		default:
			return fmt.Errorf("todo %d: unknown status %q", i, todo.Status)
		}
		if todo.Status == TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("at most one todo may be in_progress, got %d", inProgress)
	}
	return nil
}
