package models

import "encoding/json"

// ClientEventType discriminates streamed client frames.
type ClientEventType string

const (
	EventText       ClientEventType = "text"
	EventToolCall   ClientEventType = "tool_call"
	EventToolResult ClientEventType = "tool_result"
	EventError      ClientEventType = "error"
)

// ClientEvent is the payload of one SSE frame sent to the chat client.
type ClientEvent struct {
	Type       ClientEventType `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// TextEvent builds a text frame.
func TextEvent(content string) ClientEvent {
	return ClientEvent{Type: EventText, Content: content}
}

// ToolCallEvent builds a tool_call frame.
func ToolCallEvent(name string, args json.RawMessage, callID string) ClientEvent {
	return ClientEvent{Type: EventToolCall, ToolName: name, Args: args, ToolCallID: callID}
}

// ToolResultEvent builds a tool_result frame. The result is forwarded as raw
// JSON; plain strings are quoted by the caller.
func ToolResultEvent(name string, result json.RawMessage, callID string) ClientEvent {
	return ClientEvent{Type: EventToolResult, ToolName: name, Result: result, ToolCallID: callID}
}

// ErrorEvent builds a terminal error frame.
func ErrorEvent(message string) ClientEvent {
	return ClientEvent{Type: EventError, Content: message}
}
