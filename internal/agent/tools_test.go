package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/deepserve/deepserve/pkg/models"
)

func TestWriteTodosTool(t *testing.T) {
	state := &TurnState{}
	tool := NewWriteTodosTool(state)

	params := json.RawMessage(`{"todos":[
		{"content":"load data","status":"completed"},
		{"content":"plot chart","status":"in_progress"},
		{"content":"write report","status":"pending"}
	]}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Content, "Updated 3 todos (1 completed, 1 in progress, 1 pending)") {
		t.Errorf("summary = %q", result.Content)
	}
	if len(state.Todos) != 3 {
		t.Fatalf("state carries %d todos", len(state.Todos))
	}
}

func TestWriteTodosToolRejectsTwoInProgress(t *testing.T) {
	state := &TurnState{}
	tool := NewWriteTodosTool(state)

	params := json.RawMessage(`{"todos":[
		{"content":"a","status":"in_progress"},
		{"content":"b","status":"in_progress"}
	]}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("two in_progress todos should be rejected")
	}
	if len(state.Todos) != 0 {
		t.Error("invalid todos mutated state")
	}
}

func TestReadTodosTool(t *testing.T) {
	state := &TurnState{Todos: []models.Todo{
		{Content: "done thing", Status: models.TodoCompleted},
		{Content: "next thing", Status: models.TodoPending},
	}}
	result, err := NewReadTodosTool(state).Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Content, "- [x] done thing") || !strings.Contains(result.Content, "- [ ] next thing") {
		t.Errorf("content = %q", result.Content)
	}

	empty, _ := NewReadTodosTool(&TurnState{}).Execute(context.Background(), nil)
	if empty.Content != "No todos yet." {
		t.Errorf("empty content = %q", empty.Content)
	}
}

func TestCleanSkillPath(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"scripts/run.py", false},
		{"./scripts/run.py", false},
		{"../other/secret", true},
		{"/etc/passwd", true},
		{".", true},
		{"a/../../b", true},
	}
	for _, tt := range tests {
		_, err := cleanSkillPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("cleanSkillPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestIsBuiltinTool(t *testing.T) {
	for _, name := range []string{"execute", "write_todos", "task", "execute_skill_script"} {
		if !IsBuiltinTool(name) {
			t.Errorf("IsBuiltinTool(%q) = false", name)
		}
	}
	if IsBuiltinTool("some_mcp_tool") {
		t.Error("IsBuiltinTool(some_mcp_tool) = true")
	}
}

func TestTaskToolUnknownSubagent(t *testing.T) {
	runner := &fakeRunner{names: []string{GeneralPurposeSubagent}}
	tool := NewTaskTool(runner)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"description":"do it","subagent_type":"missing"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("unknown subagent type accepted")
	}

	result, err = tool.Execute(context.Background(), json.RawMessage(`{"description":"do it","subagent_type":"general-purpose"}`))
	if err != nil || result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if runner.lastDescription != "do it" {
		t.Errorf("description = %q", runner.lastDescription)
	}
}

type fakeRunner struct {
	names           []string
	lastDescription string
}

func (r *fakeRunner) SubagentNames() []string { return r.names }

func (r *fakeRunner) RunSubagent(ctx context.Context, subagentType, description string) (string, error) {
	r.lastDescription = description
	return "summary", nil
}

func TestSubagentsRunToCompletion(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "subagent summary"}, {Done: true}},
	}}
	subagents := NewSubagents(provider, "test-model", nil, func(state *TurnState) *ToolRegistry {
		registry := NewToolRegistry()
		registry.Register(echoTool{})
		return registry
	}, nil)

	summary, err := subagents.RunSubagent(context.Background(), GeneralPurposeSubagent, "investigate")
	if err != nil {
		t.Fatalf("RunSubagent() error = %v", err)
	}
	if summary != "subagent summary" {
		t.Errorf("summary = %q", summary)
	}

	names := subagents.SubagentNames()
	if len(names) != 1 || names[0] != GeneralPurposeSubagent {
		t.Errorf("SubagentNames() = %v", names)
	}
}
