package mcp

import (
	"context"
	"encoding/json"
)

// RemoteTool is one callable tool bound to a connected client.
type RemoteTool struct {
	client *Client
	info   *ToolInfo
}

// Name returns the tool name as advertised by the server.
func (t *RemoteTool) Name() string { return t.info.Name }

// Description returns the server-provided description.
func (t *RemoteTool) Description() string { return t.info.Description }

// Schema returns the tool's input schema.
func (t *RemoteTool) Schema() json.RawMessage {
	if len(t.info.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.info.InputSchema
}

// Call invokes the tool. A server-side tool failure is returned as content
// with isError set, not as a Go error.
func (t *RemoteTool) Call(ctx context.Context, args json.RawMessage) (string, bool, error) {
	result, err := t.client.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return "", false, err
	}
	return result.Text(), result.IsError, nil
}

// Toolset is the per-turn collection of connected clients and their
// permitted tools. Close it when the turn ends.
type Toolset struct {
	clients []*Client
	tools   []*RemoteTool
}

// Tools returns the callable tools.
func (s *Toolset) Tools() []*RemoteTool {
	if s == nil {
		return nil
	}
	return s.tools
}

// Close disconnects every client.
func (s *Toolset) Close() {
	if s == nil {
		return
	}
	for _, client := range s.clients {
		client.Close()
	}
}
