// Package mcp implements a Model-Context-Protocol client used to expose
// external tool servers to a conversation turn.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepserve/deepserve/pkg/models"
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	Name      string            `json:"name"`
	Transport models.TransportType `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timeout   time.Duration     `json:"-"`
}

// FromRecord converts a stored server row into a connection config.
func FromRecord(server *models.MCPServer) *ServerConfig {
	timeout := time.Duration(server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ServerConfig{
		Name:      server.Name,
		Transport: server.Transport,
		Command:   server.Command,
		Args:      append([]string(nil), server.Args...),
		Env:       server.Env,
		URL:       server.URL,
		Timeout:   timeout,
	}
}

// Validate checks transport requirements and rejects shell metacharacters in
// stdio commands; the command is executed directly, never through a shell.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name is required")
	}
	switch c.Transport {
	case models.TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
		if strings.ContainsAny(c.Command, "|&;<>$`") {
			return fmt.Errorf("command contains shell metacharacters")
		}
	case models.TransportHTTP, models.TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("url is required for %s transport", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// ToolInfo describes a tool advertised by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// JSONRPCRequest is an outgoing JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is an incoming JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// InitializeResult is the server's reply to the initialize request.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ServerInfo identifies the remote server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListToolsResult is the server's reply to tools/list.
type ListToolsResult struct {
	Tools []*ToolInfo `json:"tools"`
}

// CallToolParams are the parameters of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultContent is one content block of a tool call result.
type ToolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCallResult is the server's reply to tools/call.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// Text joins the textual content blocks of a result.
func (r *ToolCallResult) Text() string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
