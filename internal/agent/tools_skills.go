package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/deepserve/deepserve/internal/sandbox"
	"github.com/deepserve/deepserve/internal/skills"
)

const (
	containerSkillsDir = "/workspace/skills"
	skillScriptTimeout = 300 * time.Second
)

// catSkillFile reads one file from the mounted skills tree. Only skills the
// user is permitted to use are mounted, so no extra filtering is needed here.
func catSkillFile(ctx context.Context, sb *sandbox.Sandbox, filePath string) (string, bool) {
	result, err := sb.Execute(ctx, fmt.Sprintf("cat %q", filePath), 0)
	if err != nil || result.ExitCode != 0 {
		return "", false
	}
	return result.Output, true
}

// cleanSkillPath rejects traversal out of the skill directory.
func cleanSkillPath(rel string) (string, error) {
	cleaned := path.Clean(rel)
	if cleaned == "." || path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid resource path %q", rel)
	}
	return cleaned, nil
}

// ListSkillsTool lists skills mounted into the sandbox.
type ListSkillsTool struct {
	sandbox *sandbox.Sandbox
}

// NewListSkillsTool creates the list_skills tool.
func NewListSkillsTool(sb *sandbox.Sandbox) *ListSkillsTool { return &ListSkillsTool{sandbox: sb} }

func (t *ListSkillsTool) Name() string { return "list_skills" }

func (t *ListSkillsTool) Description() string {
	return "列出所有可用技能及其简介。技能是包含详细指导和资源文件的能力包。"
}

func (t *ListSkillsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ListSkillsTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	manifests, err := t.sandbox.Glob(ctx, "*/"+skills.SkillFilename, containerSkillsDir)
	if err != nil {
		return Errorf("%v", err), nil
	}
	if len(manifests) == 0 {
		return &ToolResult{Content: "No skills available."}, nil
	}

	var lines []string
	for _, manifest := range manifests {
		content, ok := catSkillFile(ctx, t.sandbox, manifest)
		if !ok {
			continue
		}
		skill, err := skills.ParseSkill([]byte(content), path.Dir(manifest))
		if err != nil {
			continue
		}
		line := fmt.Sprintf("- **%s**", skill.Name)
		if len(skill.Tags) > 0 {
			line += " [" + strings.Join(skill.Tags, ", ") + "]"
		}
		line += ": " + skill.Description
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return &ToolResult{Content: "No skills available."}, nil
	}
	return &ToolResult{Content: strings.Join(lines, "\n")}, nil
}

// LoadSkillTool loads a skill's full instructions.
type LoadSkillTool struct {
	sandbox *sandbox.Sandbox
}

// NewLoadSkillTool creates the load_skill tool.
func NewLoadSkillTool(sb *sandbox.Sandbox) *LoadSkillTool { return &LoadSkillTool{sandbox: sb} }

func (t *LoadSkillTool) Name() string { return "load_skill" }

func (t *LoadSkillTool) Description() string {
	return "加载指定技能的完整说明。当用户任务与某个技能匹配时，先加载技能再按说明执行。"
}

func (t *LoadSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill_name": {"type": "string"}
		},
		"required": ["skill_name"]
	}`)
}

func (t *LoadSkillTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid load_skill params: %v", err), nil
	}

	manifest := path.Join(containerSkillsDir, input.SkillName, skills.SkillFilename)
	content, ok := catSkillFile(ctx, t.sandbox, manifest)
	if !ok {
		return Errorf("skill %q not found", input.SkillName), nil
	}
	skill, err := skills.ParseSkill([]byte(content), path.Dir(manifest))
	if err != nil {
		return Errorf("skill %q has an invalid SKILL.md: %v", input.SkillName, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Skill: %s\n\n%s\n", skill.Name, skill.Content)
	resources, err := t.sandbox.Glob(ctx, "**", path.Dir(manifest))
	if err == nil && len(resources) > 0 {
		b.WriteString("\n## 资源文件\n")
		for _, resource := range resources {
			if path.Base(resource) == skills.SkillFilename {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", resource)
		}
	}
	return &ToolResult{Content: b.String()}, nil
}

// ReadSkillResourceTool reads one resource file shipped with a skill.
type ReadSkillResourceTool struct {
	sandbox *sandbox.Sandbox
}

// NewReadSkillResourceTool creates the read_skill_resource tool.
func NewReadSkillResourceTool(sb *sandbox.Sandbox) *ReadSkillResourceTool {
	return &ReadSkillResourceTool{sandbox: sb}
}

func (t *ReadSkillResourceTool) Name() string { return "read_skill_resource" }

func (t *ReadSkillResourceTool) Description() string {
	return "读取技能目录中的资源文件（脚本、模板、文档等）。"
}

func (t *ReadSkillResourceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill_name": {"type": "string"},
			"resource_path": {"type": "string", "description": "Path relative to the skill directory"}
		},
		"required": ["skill_name", "resource_path"]
	}`)
}

func (t *ReadSkillResourceTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		SkillName    string `json:"skill_name"`
		ResourcePath string `json:"resource_path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid read_skill_resource params: %v", err), nil
	}
	rel, err := cleanSkillPath(input.ResourcePath)
	if err != nil {
		return Errorf("%v", err), nil
	}

	full := path.Join(containerSkillsDir, input.SkillName, rel)
	content, ok := catSkillFile(ctx, t.sandbox, full)
	if !ok {
		return Errorf("resource %q not found in skill %q", rel, input.SkillName), nil
	}
	return &ToolResult{Content: content}, nil
}

// ExecuteSkillScriptTool runs a script shipped with a skill.
type ExecuteSkillScriptTool struct {
	sandbox *sandbox.Sandbox
}

// NewExecuteSkillScriptTool creates the execute_skill_script tool.
func NewExecuteSkillScriptTool(sb *sandbox.Sandbox) *ExecuteSkillScriptTool {
	return &ExecuteSkillScriptTool{sandbox: sb}
}

func (t *ExecuteSkillScriptTool) Name() string { return "execute_skill_script" }

func (t *ExecuteSkillScriptTool) Description() string {
	return "执行技能提供的脚本。脚本在 /workspace/intermediate 工作目录下运行，输出文件请写到该目录。"
}

func (t *ExecuteSkillScriptTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill_name": {"type": "string"},
			"script_path": {"type": "string", "description": "Path relative to the skill directory"},
			"args": {"type": "string", "description": "Arguments appended to the command line"}
		},
		"required": ["skill_name", "script_path"]
	}`)
}

func (t *ExecuteSkillScriptTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		SkillName  string `json:"skill_name"`
		ScriptPath string `json:"script_path"`
		Args       string `json:"args"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return Errorf("invalid execute_skill_script params: %v", err), nil
	}
	rel, err := cleanSkillPath(input.ScriptPath)
	if err != nil {
		return Errorf("%v", err), nil
	}

	script := path.Join(containerSkillsDir, input.SkillName, rel)
	command := fmt.Sprintf("cd /workspace/intermediate && bash %q", script)
	if strings.TrimSpace(input.Args) != "" {
		command += " " + input.Args
	}

	result, err := t.sandbox.Execute(ctx, command, skillScriptTimeout)
	if err != nil {
		return nil, err
	}
	content := result.Output
	if result.ExitCode != 0 {
		content = fmt.Sprintf("%s\n[exit code %d]", content, result.ExitCode)
	}
	return &ToolResult{Content: content, IsError: result.ExitCode != 0}, nil
}
