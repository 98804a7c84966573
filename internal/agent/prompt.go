package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deepserve/deepserve/internal/sandbox"
	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/pkg/models"
)

const todoSystemPrompt = `## 任务管理

你可以使用 ` + "`write_todos`" + ` 工具来跟踪你的任务。
经常使用它来：
- 在开始前规划复杂任务
- 向用户展示进度
- 跟踪已完成和待处理的事项

在处理任务时：
1. 将复杂任务分解为更小的步骤
2. 一次只标记一个任务为进行中
3. 完成后立即标记任务为已完成`

const filesystemSystemPrompt = `## 文件系统工具

你可以使用文件系统工具来读取和修改文件：

- ` + "`ls`" + `: 列出目录中的文件
- ` + "`read_file`" + `: 读取带行号的文件内容
- ` + "`write_file`" + `: 创建或覆盖文件
- ` + "`edit_file`" + `: 替换文件中的字符串
- ` + "`glob`" + `: 查找匹配模式的文件
- ` + "`grep`" + `: 在文件中搜索模式

### 最佳实践
- 编辑文件前务必先读取
- 小改动使用 edit_file，重写使用 write_file
- 操作文件前先用 glob 查找`

const sandboxSystemPrompt = `## 命令执行 (Sandbox)

你还可以使用 ` + "`execute`" + ` 工具在**隔离的沙盒环境**中运行 shell 命令。

**重要使用规则**：
1. **禁止联网安装**：沙盒是**无网隔离环境**，严禁尝试 pip install, apt-get 等联网安装命令。
2. **使用预装库**：请务必使用环境报告中列出的"已安装的库"。
3. **用途**：数据分析、运行测试、构建项目、运行脚本。
4. **安全**：对破坏性命令要谨慎（如 rm -rf）。`

const subagentSystemPrompt = `## 任务委派

你可以使用 ` + "`task`" + ` 工具将工作委派给专门的子代理。
适用场景：

1. 任务需要专门的知识或工具
2. 你想隔离复杂的子任务
3. 并行工作会有益处
4. 任务需要全新的上下文环境

子代理拥有：
- 它们自己的系统提示词和工具
- 全新的上下文（无法访问你的对话历史）
- 访问同一个文件系统

委派时：
- 提供清晰、具体的说明
- 指定预期的输出格式
- 子代理将返回其工作摘要`

// PromptContext collects everything the dynamic system prompt reflects.
type PromptContext struct {
	Image           sandbox.ImageConfig
	Files           []string
	Todos           []models.Todo
	Skills          []*skills.Skill
	EnableSubagents bool
	Subagents       map[string]string
}

// BuildSystemPrompt assembles the per-turn system prompt: workspace
// contents first, then task management, filesystem and sandbox docs, the
// execution environment, delegation and skills.
func BuildSystemPrompt(pc PromptContext) string {
	var parts []string

	parts = append(parts, filesSummary(pc.Files))
	parts = append(parts, todoSection(pc.Todos))
	parts = append(parts, filesystemSystemPrompt, sandboxSystemPrompt)
	parts = append(parts, imageSection(pc.Image))
	if pc.EnableSubagents && len(pc.Subagents) > 0 {
		parts = append(parts, subagentSection(pc.Subagents))
	}
	if len(pc.Skills) > 0 {
		parts = append(parts, skillsSection(pc.Skills))
	}
	return strings.Join(parts, "\n\n")
}

func filesSummary(files []string) string {
	lines := []string{
		"## 工作空间环境",
		"",
		"你在一个Docker沙箱容器中运行，可以访问以下目录：",
		"",
		"### 目录说明",
		"- `/workspace/uploads/` - 用户上传的文件（可读写）",
		"- `/workspace/intermediate/` - 中间处理目录，用于存放代码输出、临时文件等（可读写）",
		"- `/workspace/skills/` - 技能资源目录，包含可用的脚本和工具（只读）",
		"",
	}

	if len(files) == 0 {
		lines = append(lines,
			"当前工作空间中没有文件。",
			"",
			"**提示**：你可以使用 `execute` 工具执行命令创建文件，或让用户上传文件。")
		return strings.Join(lines, "\n")
	}

	groups := []struct {
		title  string
		prefix string
	}{
		{"### 上传文件", "/workspace/uploads/"},
		{"### 中间文件", "/workspace/intermediate/"},
		{"### 技能资源", "/workspace/skills/"},
	}
	for _, group := range groups {
		var matched []string
		for _, file := range files {
			if strings.HasPrefix(file, group.prefix) {
				matched = append(matched, file)
			}
		}
		if len(matched) == 0 {
			continue
		}
		sort.Strings(matched)
		lines = append(lines, group.title)
		for _, file := range matched {
			lines = append(lines, fmt.Sprintf("- `%s`", file))
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"**工具使用**：",
		"- 读取文件：`read_file(path)`",
		"- 搜索内容：`grep(pattern, path)`",
		"- 执行命令：`execute(command)` 例如：`execute('python script.py')`",
		"- 写入文件：`write_file(path, content)` 建议写入 `/workspace/intermediate/` 目录")
	return strings.Join(lines, "\n")
}

func todoSection(todos []models.Todo) string {
	if len(todos) == 0 {
		return todoSystemPrompt
	}
	lines := []string{todoSystemPrompt, "", "## Current Todos"}
	for _, todo := range todos {
		icon, ok := todoStatusIcons[todo.Status]
		if !ok {
			icon = "[ ]"
		}
		lines = append(lines, fmt.Sprintf("- %s %s", icon, todo.Content))
	}
	return strings.Join(lines, "\n")
}

func imageSection(image sandbox.ImageConfig) string {
	lines := []string{
		"## 执行环境",
		"",
		fmt.Sprintf("**环境**: %s", image.Name),
	}
	if image.Description != "" {
		lines = append(lines, fmt.Sprintf("**描述**: %s", image.Description))
	}
	workDir := image.WorkDir
	if workDir == "" {
		workDir = sandbox.WorkspaceDir
	}
	lines = append(lines, fmt.Sprintf("**工作目录**: %s", workDir))
	if len(image.PreInstalledPackages) > 0 {
		lines = append(lines, "", "**已安装的库** (无需 pip install):")
		for _, pkg := range image.PreInstalledPackages {
			lines = append(lines, fmt.Sprintf("- %s", pkg))
		}
	}
	return strings.Join(lines, "\n")
}

func subagentSection(subagents map[string]string) string {
	names := make([]string, 0, len(subagents))
	for name := range subagents {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{subagentSystemPrompt, "", "## Available Subagents"}
	for _, name := range names {
		description := strings.TrimSpace(subagents[name])
		if description != "" {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", name, description))
		} else {
			lines = append(lines, fmt.Sprintf("- %s", name))
		}
	}
	return strings.Join(lines, "\n")
}

func skillsSection(available []*skills.Skill) string {
	lines := []string{
		"## 可用技能",
		"",
		"您可以访问扩展您能力的技能。这些技能是专门设计的模块化能力包，包含针对特定任务的详细指导和资源。",
		"",
		"### 技能优先原则（重要）",
		"",
		"**当用户的问题或任务与某个技能高度匹配时，请务必优先使用对应的技能来完成任务。**",
		"",
		"技能使用流程：",
		"1. 首先查看下方的技能列表，判断用户任务是否匹配某个技能",
		"2. 如果匹配，使用 `load_skill` 加载该技能的完整说明",
		"3. 严格按照技能说明中的步骤和方法执行任务",
		"4. 如果技能包含资源文件（脚本、模板等），优先使用这些资源",
		"",
		"### 可用技能列表",
		"",
	}
	for _, skill := range available {
		line := fmt.Sprintf("- **%s**", skill.Name)
		if len(skill.Tags) > 0 {
			line += " [" + strings.Join(skill.Tags, ", ") + "]"
		}
		line += ": " + skill.Description
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
