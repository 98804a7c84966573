package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepserve/deepserve/internal/sandbox"
)

// ExecuteTool runs shell commands inside the conversation's sandbox.
type ExecuteTool struct {
	sandbox *sandbox.Sandbox
}

// NewExecuteTool creates the execute tool.
func NewExecuteTool(sb *sandbox.Sandbox) *ExecuteTool {
	return &ExecuteTool{sandbox: sb}
}

func (t *ExecuteTool) Name() string { return "execute" }

func (t *ExecuteTool) Description() string {
	return "在隔离的沙盒环境中执行 shell 命令。沙盒无网络访问，请使用预装的库。返回 stdout+stderr 和退出码。"
}

func (t *ExecuteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run"},
			"timeout_seconds": {"type": "integer", "description": "Optional timeout, capped at 600"}
		},
		"required": ["command"]
	}`)
}

func (t *ExecuteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid execute params: %v", err), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return Errorf("command must not be empty"), nil
	}

	result, err := t.sandbox.Execute(ctx, input.Command, time.Duration(input.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	content := result.Output
	if result.ExitCode != 0 {
		content = fmt.Sprintf("%s\n[exit code %d]", content, result.ExitCode)
	}
	if result.Truncated {
		content += "\n[output was truncated]"
	}
	return &ToolResult{Content: content, IsError: result.ExitCode != 0}, nil
}

// LsTool lists a directory in the sandbox.
type LsTool struct {
	sandbox *sandbox.Sandbox
}

// NewLsTool creates the ls tool.
func NewLsTool(sb *sandbox.Sandbox) *LsTool { return &LsTool{sandbox: sb} }

func (t *LsTool) Name() string        { return "ls" }
func (t *LsTool) Description() string { return "列出目录中的文件。默认目录为 /workspace。" }

func (t *LsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory to list"}
		}
	}`)
}

func (t *LsTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid ls params: %v", err), nil
	}
	out, err := t.sandbox.Ls(ctx, input.Path)
	if err != nil {
		return Errorf("%v", err), nil
	}
	return &ToolResult{Content: out}, nil
}

// ReadFileTool reads a file with line numbers.
type ReadFileTool struct {
	sandbox *sandbox.Sandbox
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(sb *sandbox.Sandbox) *ReadFileTool { return &ReadFileTool{sandbox: sb} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "读取带行号的文件内容。可选 offset（起始行号）和 limit（行数，默认 500）。"
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"offset": {"type": "integer"},
			"limit": {"type": "integer"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid read_file params: %v", err), nil
	}
	out, err := t.sandbox.Read(ctx, input.Path, input.Offset, input.Limit)
	if err != nil {
		return Errorf("%v", err), nil
	}
	return &ToolResult{Content: out}, nil
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	sandbox *sandbox.Sandbox
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(sb *sandbox.Sandbox) *WriteFileTool { return &WriteFileTool{sandbox: sb} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "创建或覆盖文件。建议写入 /workspace/intermediate/ 目录。"
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid write_file params: %v", err), nil
	}
	result, err := t.sandbox.Write(ctx, input.Path, input.Content)
	if err != nil {
		return Errorf("%v", err), nil
	}
	return &ToolResult{Content: result.String()}, nil
}

// EditFileTool replaces a string in a file.
type EditFileTool struct {
	sandbox *sandbox.Sandbox
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(sb *sandbox.Sandbox) *EditFileTool { return &EditFileTool{sandbox: sb} }

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "替换文件中的字符串。old_string 必须唯一，除非设置 replace_all。编辑前务必先读取文件。"
}

func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"old_string": {"type": "string"},
			"new_string": {"type": "string"},
			"replace_all": {"type": "boolean"}
		},
		"required": ["path", "old_string", "new_string"]
	}`)
}

func (t *EditFileTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path       string `json:"path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid edit_file params: %v", err), nil
	}
	result, err := t.sandbox.Edit(ctx, input.Path, input.OldString, input.NewString, input.ReplaceAll)
	if err != nil {
		return Errorf("%v", err), nil
	}
	return &ToolResult{Content: result.String()}, nil
}

// GlobTool finds files matching a pattern.
type GlobTool struct {
	sandbox *sandbox.Sandbox
}

// NewGlobTool creates the glob tool.
func NewGlobTool(sb *sandbox.Sandbox) *GlobTool { return &GlobTool{sandbox: sb} }

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "查找匹配模式的文件，例如 *.csv 或 data/*.xlsx。" }

func (t *GlobTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"base": {"type": "string", "description": "Base directory, defaults to /workspace"}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Base    string `json:"base"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid glob params: %v", err), nil
	}
	matches, err := t.sandbox.Glob(ctx, input.Pattern, input.Base)
	if err != nil {
		return Errorf("%v", err), nil
	}
	if len(matches) == 0 {
		return &ToolResult{Content: "No files matched."}, nil
	}
	return &ToolResult{Content: strings.Join(matches, "\n")}, nil
}

// GrepTool searches file contents.
type GrepTool struct {
	sandbox *sandbox.Sandbox
}

// NewGrepTool creates the grep tool.
func NewGrepTool(sb *sandbox.Sandbox) *GrepTool { return &GrepTool{sandbox: sb} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "在文件中搜索模式。output_mode 可选 content、files_with_matches 或 count。"
}

func (t *GrepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string"},
			"glob": {"type": "string", "description": "Filename filter such as *.py"},
			"output_mode": {"type": "string", "enum": ["content", "files_with_matches", "count"]}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		Glob       string `json:"glob"`
		OutputMode string `json:"output_mode"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid grep params: %v", err), nil
	}
	lines, err := t.sandbox.Grep(ctx, input.Pattern, input.Path, input.Glob, sandbox.GrepMode(input.OutputMode))
	if err != nil {
		return Errorf("%v", err), nil
	}
	if len(lines) == 0 {
		return &ToolResult{Content: "No matches found."}, nil
	}
	return &ToolResult{Content: strings.Join(lines, "\n")}, nil
}
