package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

const protocolVersion = "2024-11-05"

// Client drives one MCP server connection through a turn: connect,
// enumerate tools, dispatch calls, close.
type Client struct {
	config    *ServerConfig
	transport Transport
	tools     []*ToolInfo
}

// NewClient creates an unconnected client.
func NewClient(cfg *ServerConfig) *Client {
	return &Client{config: cfg, transport: NewTransport(cfg)}
}

// Connect establishes the transport, runs the initialize handshake, and
// lists the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.Validate(); err != nil {
		return err
	}
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	_, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "deepserve",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.transport.Close()
		return fmt.Errorf("initialized notification: %w", err)
	}

	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("list tools: %w", err)
	}
	var listed ListToolsResult
	if err := json.Unmarshal(result, &listed); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse tools: %w", err)
	}
	c.tools = listed.Tools
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.config.Name
}

// Tools returns the tools listed at connect time.
func (c *Client) Tools() []*ToolInfo {
	return c.tools
}

// CallTool invokes a tool by name with raw JSON arguments.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResult, error) {
	result, err := c.transport.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &callResult, nil
}
