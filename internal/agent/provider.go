// Package agent runs conversation turns: it streams model output, executes
// tool calls, persists every step and emits client frames.
package agent

import (
	"context"

	"github.com/deepserve/deepserve/pkg/models"
)

// LLMProvider streams completions from one model backend.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The
	// channel is closed when the stream ends; the final chunk carries
	// either Done or Error.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model names the model to use; empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may call. Empty disables tool calling.
	Tools []Tool `json:"-"`

	// MaxTokens caps the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single message in the model conversation.
// Role is "user", "assistant" or "tool"; tool messages carry the result of
// one earlier tool call.
type CompletionMessage struct {
	Role      string            `json:"role"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName link a tool message to the call it answers.
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	IsToolError bool   `json:"is_tool_error,omitempty"`
}

// CompletionChunk is one increment of a streaming response. Exactly one of
// Text, ToolCall, Done or Error is set.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`
}
