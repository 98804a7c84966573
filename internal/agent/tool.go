package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/deepserve/deepserve/internal/mcp"
)

// Tool defines the interface for executable agent tools.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description tells the LLM when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures the model should see are returned
	// as a ToolResult with IsError set, not as an error.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of one tool execution. Errors are communicated
// with IsError so the model can react to them.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Errorf builds an error ToolResult.
func Errorf(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// builtinToolNames are the tools every turn carries regardless of the
// user's permission set; permissions only govern MCP tools.
var builtinToolNames = map[string]struct{}{
	"read_todos":           {},
	"write_todos":          {},
	"ls":                   {},
	"read_file":            {},
	"write_file":           {},
	"edit_file":            {},
	"glob":                 {},
	"grep":                 {},
	"execute":              {},
	"task":                 {},
	"list_skills":          {},
	"load_skill":           {},
	"read_skill_resource":  {},
	"execute_skill_script": {},
}

// IsBuiltinTool reports whether name is one of the always-available tools.
func IsBuiltinTool(name string) bool {
	_, ok := builtinToolNames[name]
	return ok
}

// ToolRegistry holds the tools available to one turn.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name. An unknown tool produces an error result,
// not a hard failure, so the model can recover.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return Errorf("tool not found: %s", name), nil
	}
	result, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

// Tools returns all registered tools sorted by name.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// remoteTool adapts an MCP tool to the Tool interface.
type remoteTool struct {
	tool *mcp.RemoteTool
}

// WrapRemoteTool exposes an MCP server tool as an agent tool.
func WrapRemoteTool(tool *mcp.RemoteTool) Tool {
	return &remoteTool{tool: tool}
}

func (t *remoteTool) Name() string            { return t.tool.Name() }
func (t *remoteTool) Description() string     { return t.tool.Description() }
func (t *remoteTool) Schema() json.RawMessage { return t.tool.Schema() }

func (t *remoteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	text, isError, err := t.tool.Call(ctx, params)
	if err != nil {
		// Transport failures become error results so one flaky server
		// does not kill the turn.
		return Errorf("mcp tool %s failed: %v", t.tool.Name(), err), nil
	}
	return &ToolResult{Content: text, IsError: isError}, nil
}
