package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/pkg/models"
)

// Store is the repository surface the registry reads server rows from.
type Store interface {
	ListMCPServers(ctx context.Context, includeInactive bool) ([]*models.MCPServer, error)
}

// Snapshot is an immutable view of the active server configuration. Readers
// hold a pointer; invalidation swaps the pointer, never mutates in place.
type Snapshot struct {
	Hash    string
	Servers map[string]*ServerConfig
}

// Registry caches the active MCP server configuration and builds per-turn
// toolsets from it.
type Registry struct {
	store    Store
	logger   *observability.Logger
	snapshot atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store, logger *observability.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// CurrentConfig returns the cached snapshot, loading from the repository if
// none is held.
func (r *Registry) CurrentConfig(ctx context.Context) (*Snapshot, error) {
	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}

	servers, err := r.store.ListMCPServers(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load mcp servers: %w", err)
	}

	configs := make(map[string]*ServerConfig, len(servers))
	for _, server := range servers {
		configs[server.Name] = FromRecord(server)
	}
	snap := &Snapshot{Hash: hashConfigs(configs), Servers: configs}
	r.snapshot.Store(snap)
	return snap, nil
}

// InvalidateCache discards the snapshot; the next CurrentConfig reloads.
// Admin mutations to server rows call this.
func (r *Registry) InvalidateCache() {
	r.snapshot.Store(nil)
}

// ConfigDump renders the snapshot in the exported config format:
// {server_name: {command,args,env} | {url,transport}}.
func (s *Snapshot) ConfigDump() map[string]map[string]any {
	dump := make(map[string]map[string]any, len(s.Servers))
	for name, cfg := range s.Servers {
		switch cfg.Transport {
		case models.TransportStdio:
			entry := map[string]any{"command": cfg.Command}
			if len(cfg.Args) > 0 {
				entry["args"] = cfg.Args
			}
			if len(cfg.Env) > 0 {
				entry["env"] = cfg.Env
			}
			dump[name] = entry
		default:
			dump[name] = map[string]any{
				"url":       cfg.URL,
				"transport": string(cfg.Transport),
			}
		}
	}
	return dump
}

// BuildToolset connects fresh clients for every active server and collects
// the tools whose names are in allowed (nil allowed means everything).
// Returns nil when no servers are active. Connections are deliberately not
// reused across turns; stale connections otherwise accumulate.
func (r *Registry) BuildToolset(ctx context.Context, allowed map[string]struct{}) (*Toolset, error) {
	snap, err := r.CurrentConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap.Servers) == 0 {
		return nil, nil
	}

	toolset := &Toolset{}
	for _, name := range sortedNames(snap.Servers) {
		cfg := snap.Servers[name]
		client := NewClient(cfg)
		if err := client.Connect(ctx); err != nil {
			if r.logger != nil {
				r.logger.Warn(ctx, "mcp server unavailable, skipping", "server", name, "error", err)
			}
			continue
		}

		used := false
		for _, tool := range client.Tools() {
			if allowed != nil {
				if _, ok := allowed[tool.Name]; !ok {
					continue
				}
			}
			toolset.tools = append(toolset.tools, &RemoteTool{client: client, info: tool})
			used = true
		}
		if used {
			toolset.clients = append(toolset.clients, client)
		} else {
			client.Close()
		}
	}

	if len(toolset.tools) == 0 {
		toolset.Close()
		return nil, nil
	}
	return toolset, nil
}

func hashConfigs(configs map[string]*ServerConfig) string {
	names := sortedNames(configs)
	h := sha256.New()
	for _, name := range names {
		encoded, _ := json.Marshal(configs[name])
		h.Write([]byte(name))
		h.Write(encoded)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedNames(configs map[string]*ServerConfig) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
