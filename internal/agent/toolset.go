package agent

import (
	"github.com/deepserve/deepserve/internal/mcp"
	"github.com/deepserve/deepserve/internal/sandbox"
)

// NewBuiltinRegistry assembles the always-available tools for one turn:
// todos, filesystem, execution and skills, plus task delegation when a
// runner is supplied. MCP tools are added separately per turn.
func NewBuiltinRegistry(sb *sandbox.Sandbox, state *TurnState, runner SubagentRunner) *ToolRegistry {
	registry := NewToolRegistry()
	registry.Register(NewReadTodosTool(state))
	registry.Register(NewWriteTodosTool(state))
	registry.Register(NewLsTool(sb))
	registry.Register(NewReadFileTool(sb))
	registry.Register(NewWriteFileTool(sb))
	registry.Register(NewEditFileTool(sb))
	registry.Register(NewGlobTool(sb))
	registry.Register(NewGrepTool(sb))
	registry.Register(NewExecuteTool(sb))
	registry.Register(NewListSkillsTool(sb))
	registry.Register(NewLoadSkillTool(sb))
	registry.Register(NewReadSkillResourceTool(sb))
	registry.Register(NewExecuteSkillScriptTool(sb))
	if runner != nil {
		registry.Register(NewTaskTool(runner))
	}
	return registry
}

// AddRemoteTools registers the MCP toolset's tools.
func AddRemoteTools(registry *ToolRegistry, toolset *mcp.Toolset) {
	if toolset == nil {
		return
	}
	for _, tool := range toolset.Tools() {
		registry.Register(WrapRemoteTool(tool))
	}
}
