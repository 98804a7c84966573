package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/pkg/models"
)

const titleSystemPrompt = "你是一个标题生成助手,只输出简短的中文标题。"

const (
	titleUserMessageLimit      = 200
	titleAssistantMessageLimit = 300
	titleMaxLength             = 50
)

// placeholderTitles are titles that still count as "untitled".
var placeholderTitles = map[string]struct{}{
	"":         {},
	"新会话":      {},
	"New Chat": {},
	"Untitled": {},
}

// TitleStore is the repository slice the title generator needs.
type TitleStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
}

// TitleGenerator produces a short Chinese conversation title from the first
// exchange, on its own goroutine after the turn has been delivered.
type TitleGenerator struct {
	provider LLMProvider
	model    string
	store    TitleStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewTitleGenerator creates a generator using the given (typically small)
// model.
func NewTitleGenerator(provider LLMProvider, model string, store TitleStore, logger *observability.Logger, metrics *observability.Metrics) *TitleGenerator {
	return &TitleGenerator{provider: provider, model: model, store: store, logger: logger, metrics: metrics}
}

// ShouldGenerateTitle reports whether the conversation still needs a title.
func ShouldGenerateTitle(conv *models.Conversation) bool {
	_, placeholder := placeholderTitles[strings.TrimSpace(conv.Title)]
	return placeholder
}

// Generate builds and stores a title. It re-checks the conversation right
// before writing so a concurrently generated title is not overwritten.
func (g *TitleGenerator) Generate(ctx context.Context, conversationID, userMessage, assistantResponse string) (string, error) {
	userMessage = truncateRunes(userMessage, titleUserMessageLimit)
	assistantResponse = truncateRunes(assistantResponse, titleAssistantMessageLimit)

	prompt := fmt.Sprintf(`请根据以下对话内容生成一个简洁的中文标题,要求:
- 不超过15个字
- 直接输出标题,不要任何解释
- 概括对话的主要目的

用户: %s
助手: %s

标题:`, userMessage, assistantResponse)

	chunks, err := g.provider.Complete(ctx, &CompletionRequest{
		Model:    g.model,
		System:   titleSystemPrompt,
		Messages: []CompletionMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("title generation: %w", chunk.Error)
		}
		b.WriteString(chunk.Text)
	}

	title := strings.Trim(strings.TrimSpace(b.String()), `"'`)
	if title == "" {
		return "", fmt.Errorf("title generation: empty response")
	}
	if runes := []rune(title); len(runes) > titleMaxLength {
		title = string(runes[:titleMaxLength-3]) + "..."
	}

	// Another turn may have titled the conversation while we were busy.
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}
	if !ShouldGenerateTitle(conv) {
		return conv.Title, nil
	}

	if err := g.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}
	if g.metrics != nil {
		g.metrics.TitlesGenerated.Inc()
	}
	if g.logger != nil {
		g.logger.Info(ctx, "conversation titled", "conversation_id", conversationID, "title", title)
	}
	return title, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
