package agent

import (
	"strings"
	"testing"

	"github.com/deepserve/deepserve/internal/sandbox"
	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/pkg/models"
)

func TestBuildSystemPromptEmptyWorkspace(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{Image: sandbox.DefaultImageConfig()})

	for _, want := range []string{
		"工作空间环境",
		"当前工作空间中没有文件",
		"任务管理",
		"文件系统工具",
		"命令执行 (Sandbox)",
		"执行环境",
		"pandas",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "可用技能") {
		t.Error("skills section present without skills")
	}
	if strings.Contains(prompt, "任务委派") {
		t.Error("subagent section present without subagents")
	}
}

func TestBuildSystemPromptGroupsFiles(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{
		Image: sandbox.DefaultImageConfig(),
		Files: []string{
			"/workspace/intermediate/out.png",
			"/workspace/uploads/b.csv",
			"/workspace/uploads/a.csv",
		},
	})

	uploads := strings.Index(prompt, "### 上传文件")
	intermediate := strings.Index(prompt, "### 中间文件")
	if uploads == -1 || intermediate == -1 || uploads > intermediate {
		t.Fatalf("group headers at %d, %d", uploads, intermediate)
	}
	// Sorted within a group.
	a := strings.Index(prompt, "a.csv")
	b := strings.Index(prompt, "b.csv")
	if a == -1 || b == -1 || a > b {
		t.Errorf("upload files not sorted: a at %d, b at %d", a, b)
	}
}

func TestBuildSystemPromptTodosAndSkills(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{
		Image: sandbox.DefaultImageConfig(),
		Todos: []models.Todo{
			{Content: "load data", Status: models.TodoCompleted},
			{Content: "plot chart", Status: models.TodoInProgress},
		},
		Skills: []*skills.Skill{
			{Name: "pdf-tools", Description: "PDF 处理", Tags: []string{"pdf"}},
		},
		EnableSubagents: true,
		Subagents:       map[string]string{GeneralPurposeSubagent: "通用代理"},
	})

	if !strings.Contains(prompt, "- [x] load data") || !strings.Contains(prompt, "- [*] plot chart") {
		t.Error("todo icons missing")
	}
	if !strings.Contains(prompt, "**pdf-tools** [pdf]: PDF 处理") {
		t.Error("skill listing missing")
	}
	if !strings.Contains(prompt, "任务委派") || !strings.Contains(prompt, GeneralPurposeSubagent) {
		t.Error("subagent section missing")
	}
}
