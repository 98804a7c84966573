package agent

import (
	"context"
	"encoding/json"
	"strings"
)

// SubagentRunner executes a delegated task in a fresh context. The subagent
// shares the sandbox and permissions of the parent turn but starts with an
// empty todo list and cannot delegate further.
type SubagentRunner interface {
	RunSubagent(ctx context.Context, subagentType, description string) (string, error)
	SubagentNames() []string
}

// TaskTool delegates work to a subagent.
type TaskTool struct {
	runner SubagentRunner
}

// NewTaskTool creates the task tool.
func NewTaskTool(runner SubagentRunner) *TaskTool {
	return &TaskTool{runner: runner}
}

func (t *TaskTool) Name() string { return "task" }

func (t *TaskTool) Description() string {
	return "启动一个子代理来自主处理特定任务。子代理接收你的任务描述作为提示词，拥有文件操作权限，并返回其工作摘要。用于复杂的研究任务、多步骤操作或需要全新上下文的任务。"
}

func (t *TaskTool) Schema() json.RawMessage {
	names := t.runner.SubagentNames()
	enum, _ := json.Marshal(names)
	schema := `{
		"type": "object",
		"properties": {
			"description": {"type": "string", "description": "Clear, specific instructions for the subagent"},
			"subagent_type": {"type": "string", "enum": ` + string(enum) + `}
		},
		"required": ["description", "subagent_type"]
	}`
	return json.RawMessage(schema)
}

func (t *TaskTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Description  string `json:"description"`
		SubagentType string `json:"subagent_type"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid task params: %v", err), nil
	}
	if strings.TrimSpace(input.Description) == "" {
		return Errorf("description must not be empty"), nil
	}

	known := false
	for _, name := range t.runner.SubagentNames() {
		if name == input.SubagentType {
			known = true
			break
		}
	}
	if !known {
		return Errorf("unknown subagent type %q", input.SubagentType), nil
	}

	summary, err := t.runner.RunSubagent(ctx, input.SubagentType, input.Description)
	if err != nil {
		return Errorf("subagent failed: %v", err), nil
	}
	return &ToolResult{Content: summary}, nil
}
