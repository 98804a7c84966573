package models

import "testing"

func TestValidateTodos(t *testing.T) {
	tests := []struct {
		name    string
		todos   []Todo
		wantErr bool
	}{
		{
			name:  "empty list",
			todos: nil,
		},
		{
			name: "single in progress",
			todos: []Todo{
				{Content: "a", Status: TodoCompleted},
				{Content: "b", Status: TodoInProgress, ActiveForm: "doing b"},
				{Content: "c", Status: TodoPending},
			},
		},
		{
			name: "two in progress",
			todos: []Todo{
				{Content: "a", Status: TodoInProgress},
				{Content: "b", Status: TodoInProgress},
			},
			wantErr: true,
		},
		{
			name:    "missing content",
			todos:   []Todo{{Status: TodoPending}},
			wantErr: true,
		},
		{
			name:    "unknown status",
			todos:   []Todo{{Content: "a", Status: "paused"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTodos(tt.todos)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTodos() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
