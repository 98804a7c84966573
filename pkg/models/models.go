package models

import (
	"encoding/json"
	"time"
)

// MessageRole indicates the author of a persisted conversation message.
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleModel      MessageRole = "model"
	RoleToolReturn MessageRole = "tool_return"
)

// Conversation is one user-owned chat thread.
type Conversation struct {
	ID        string            `json:"id"`
	UserID    int64             `json:"user_id"`
	Title     string            `json:"title,omitempty"`
	Archived  bool              `json:"archived"`
	Starred   bool              `json:"starred"`
	State     ConversationState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ConversationState is the structured blob carried on each conversation row.
type ConversationState struct {
	Todos   []Todo            `json:"todos"`
	Uploads map[string]string `json:"uploads"`
}

// ToolCall is one model-requested tool invocation.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Message is one persisted step of a conversation. StepOrder is strictly
// monotonic per conversation; a tool_return row always follows the model row
// that carried its tool_call_id.
type Message struct {
	ID                int64       `json:"id"`
	ConversationID    string      `json:"conversation_id"`
	StepOrder         int         `json:"step_order"`
	Role              MessageRole `json:"role"`
	Content           string      `json:"content,omitempty"`
	ToolCalls         []ToolCall  `json:"tool_calls,omitempty"`
	ToolName          string      `json:"tool_name,omitempty"`
	ToolCallID        string      `json:"tool_call_id,omitempty"`
	ToolReturnContent string      `json:"tool_return_content,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// User is an authenticated account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	RoleIDs      []int64   `json:"role_ids,omitempty"`
	DepartmentID int64     `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role groups tool and skill grants.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Department may carry explicit permission blocks that override role grants.
type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TransportType is an MCP server transport.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
)

// MCPServer is a stored MCP server configuration. Stdio servers require
// Command; http/sse servers require URL.
type MCPServer struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Transport      TransportType     `json:"transport"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	URL            string            `json:"url,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	IsActive       bool              `json:"is_active"`
	IsBuiltin      bool              `json:"is_builtin"`
	CreatedBy      int64             `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SkillRecord is the stored registration of an on-disk skill directory.
type SkillRecord struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Author      string    `json:"author,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Path        string    `json:"path"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LLMModelConfig selects a provider and model for a named configuration.
type LLMModelConfig struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	ModelID   string    `json:"model_id"`
	BaseURL   string    `json:"base_url,omitempty"`
	APIKeyEnv string    `json:"api_key_env,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}
