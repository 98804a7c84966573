package web

import (
	"context"
	"net/http"
	"os/exec"
	"time"

	"github.com/deepserve/deepserve/internal/mcp"
	"github.com/deepserve/deepserve/internal/repository"
	"github.com/deepserve/deepserve/pkg/models"
)

// testConnectionTimeout bounds a connectivity probe.
const testConnectionTimeout = 10 * time.Second

func (h *Handler) listMCPServers(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true" && currentUser(r).IsAdmin
	servers, err := h.cfg.Repo.ListMCPServers(r.Context(), includeInactive)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"servers": servers})
}

func (h *Handler) createMCPServer(w http.ResponseWriter, r *http.Request) {
	var server models.MCPServer
	if err := decodeJSON(r, &server); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := repository.ValidateMCPServer(&server); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	server.CreatedBy = currentUser(r).ID
	if err := h.cfg.Repo.CreateMCPServer(r.Context(), &server); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidateMCPCaches()
	h.jsonStatus(w, http.StatusCreated, &server)
}

func (h *Handler) updateMCPServer(w http.ResponseWriter, r *http.Request) {
	existing, err := h.cfg.Repo.GetMCPServer(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var server models.MCPServer
	if err := decodeJSON(r, &server); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	server.ID = existing.ID
	server.Name = existing.Name
	if err := repository.ValidateMCPServer(&server); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.cfg.Repo.UpdateMCPServer(r.Context(), &server); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidateMCPCaches()
	h.jsonResponse(w, &server)
}

// deleteMCPServer soft-deletes: the row is deactivated, not removed, so
// message history referring to its tools stays interpretable.
func (h *Handler) deleteMCPServer(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Repo.DeactivateMCPServer(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidateMCPCaches()
	w.WriteHeader(http.StatusNoContent)
}

// testMCPServer probes the server's transport: stdio servers must have their
// command on PATH, http/sse servers must complete the MCP handshake.
func (h *Handler) testMCPServer(w http.ResponseWriter, r *http.Request) {
	server, err := h.cfg.Repo.GetMCPServer(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testConnectionTimeout)
	defer cancel()

	result := map[string]any{"name": server.Name, "ok": true}
	if err := probeServer(ctx, server); err != nil {
		result["ok"] = false
		result["error"] = err.Error()
	}
	h.jsonResponse(w, result)
}

func probeServer(ctx context.Context, server *models.MCPServer) error {
	if server.Transport == models.TransportStdio {
		_, err := exec.LookPath(server.Command)
		return err
	}
	client := mcp.NewClient(mcp.FromRecord(server))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	return client.Close()
}

// invalidateMCPCaches drops the registry snapshot and the permission cache
// after any server mutation.
func (h *Handler) invalidateMCPCaches() {
	h.cfg.MCP.InvalidateCache()
	h.cfg.Perms.InvalidateAll()
}
