package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/pkg/models"
)

// GeneralPurposeSubagent is always available when delegation is enabled.
const GeneralPurposeSubagent = "general-purpose"

const generalPurposeDescription = "用于复杂多步骤任务的通用代理。当任务不匹配特定的子代理类型时使用此代理。该代理可以搜索文件、分析数据和执行研究。"

// SubagentConfig describes one delegable agent.
type SubagentConfig struct {
	Name        string
	Description string
	System      string
}

// Subagents runs delegated tasks. Each run gets a fresh context and an
// empty todo list; the registry builder must not include the task tool, so
// delegation cannot nest.
type Subagents struct {
	provider      LLMProvider
	model         string
	configs       map[string]SubagentConfig
	buildRegistry func(state *TurnState) *ToolRegistry
	logger        *observability.Logger
	maxIterations int
}

// NewSubagents creates a subagent runner. The general-purpose agent is
// added automatically.
func NewSubagents(provider LLMProvider, model string, configs []SubagentConfig, buildRegistry func(state *TurnState) *ToolRegistry, logger *observability.Logger) *Subagents {
	byName := map[string]SubagentConfig{
		GeneralPurposeSubagent: {Name: GeneralPurposeSubagent, Description: generalPurposeDescription},
	}
	for _, cfg := range configs {
		byName[cfg.Name] = cfg
	}
	return &Subagents{
		provider:      provider,
		model:         model,
		configs:       byName,
		buildRegistry: buildRegistry,
		logger:        logger,
		maxIterations: defaultMaxIterations,
	}
}

// SubagentNames lists the available subagent types, sorted.
func (s *Subagents) SubagentNames() []string {
	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptions returns name/description pairs for the system prompt.
func (s *Subagents) Descriptions() map[string]string {
	out := make(map[string]string, len(s.configs))
	for name, cfg := range s.configs {
		out[name] = cfg.Description
	}
	return out
}

// RunSubagent executes the delegated task and returns the subagent's final
// response. Nothing the subagent does is persisted as conversation steps;
// its summary travels back as the task tool's result.
func (s *Subagents) RunSubagent(ctx context.Context, subagentType, description string) (string, error) {
	cfg, ok := s.configs[subagentType]
	if !ok {
		return "", fmt.Errorf("unknown subagent type %q", subagentType)
	}

	state := &TurnState{}
	registry := s.buildRegistry(state)
	history := []CompletionMessage{{Role: "user", Content: description}}

	for iteration := 0; iteration < s.maxIterations; iteration++ {
		chunks, err := s.provider.Complete(ctx, &CompletionRequest{
			Model:    s.model,
			System:   cfg.System,
			Messages: history,
			Tools:    registry.Tools(),
		})
		if err != nil {
			return "", fmt.Errorf("subagent stream: %w", err)
		}

		var textChunks []string
		var pending []models.ToolCall
		for chunk := range chunks {
			switch {
			case chunk.Error != nil:
				return "", fmt.Errorf("subagent stream: %w", chunk.Error)
			case chunk.Text != "":
				textChunks = append(textChunks, chunk.Text)
			case chunk.ToolCall != nil:
				pending = append(pending, *chunk.ToolCall)
			}
		}

		text := strings.Join(textChunks, "")
		if len(pending) == 0 {
			return text, nil
		}

		history = append(history, CompletionMessage{Role: "assistant", Content: text, ToolCalls: pending})
		for _, call := range pending {
			result, err := registry.Execute(ctx, call.Name, call.Args)
			if err != nil {
				return "", fmt.Errorf("subagent tool %s: %w", call.Name, err)
			}
			history = append(history, CompletionMessage{
				Role:        "tool",
				Content:     result.Content,
				ToolCallID:  call.ID,
				ToolName:    call.Name,
				IsToolError: result.IsError,
			})
		}
	}
	return "", fmt.Errorf("subagent exceeded %d tool iterations", s.maxIterations)
}
