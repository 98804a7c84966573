package mcp

import (
	"context"
	"encoding/json"

	"github.com/deepserve/deepserve/pkg/models"
)

// Transport moves JSON-RPC messages to and from one MCP server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close tears the connection down.
	Close() error

	// Call sends a request and waits for its response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error
}

// NewTransport selects a transport for the config. SSE servers speak the
// same request path as HTTP; we do not consume their event stream.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case models.TransportHTTP, models.TransportSSE:
		return NewHTTPTransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
