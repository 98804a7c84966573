// Package web exposes the JSON/SSE HTTP API of the orchestration server.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deepserve/deepserve/internal/auth"
	"github.com/deepserve/deepserve/internal/config"
	"github.com/deepserve/deepserve/internal/mcp"
	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/internal/permissions"
	"github.com/deepserve/deepserve/internal/repository"
	"github.com/deepserve/deepserve/internal/session"
	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/pkg/models"
)

// TurnStarter runs one chat turn. *session.Facade implements it.
type TurnStarter interface {
	StartTurn(ctx context.Context, user *models.User, req session.TurnRequest) error
}

// ProviderInvalidator drops a cached provider instance after its model
// configuration changed.
type ProviderInvalidator interface {
	Invalidate(name string)
}

// SandboxPurger removes a conversation's sandbox container.
// *sandbox.Manager implements it.
type SandboxPurger interface {
	Purge(ctx context.Context, conversationID string) error
}

// Config wires the handler's collaborators.
type Config struct {
	AppConfig *config.Config
	Repo      *repository.Repository
	Session   TurnStarter
	Perms     *permissions.Resolver
	MCP       *mcp.Registry
	Skills    *skills.Discovery
	Providers ProviderInvalidator
	Sandboxes SandboxPurger
	JWT       *auth.JWTService
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Handler is the root HTTP handler.
type Handler struct {
	cfg Config
	mux *http.ServeMux
}

// NewHandler builds the route table. All /api routes sit behind the auth
// middleware; admin routes additionally require the admin flag.
func NewHandler(cfg Config) *Handler {
	h := &Handler{cfg: cfg, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	if cfg.Metrics != nil {
		h.mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	authed := auth.Middleware(cfg.JWT, cfg.Repo)
	api := http.NewServeMux()

	api.HandleFunc("GET /api/conversations", h.listConversations)
	api.HandleFunc("POST /api/conversations", h.createConversation)
	api.HandleFunc("GET /api/conversations/{id}", h.getConversation)
	api.HandleFunc("DELETE /api/conversations/{id}", h.deleteConversation)
	api.HandleFunc("POST /api/conversations/{id}/archive", h.archiveConversation)
	api.HandleFunc("POST /api/conversations/{id}/star", h.starConversation)
	api.HandleFunc("GET /api/conversations/{id}/messages", h.listMessages)
	api.HandleFunc("GET /api/conversations/{id}/todos", h.getTodos)
	api.HandleFunc("PUT /api/conversations/{id}/todos", h.putTodos)
	api.HandleFunc("POST /api/conversations/{id}/chat", h.chat)
	api.HandleFunc("POST /api/conversations/{id}/upload", h.upload)

	api.HandleFunc("GET /api/skills", h.listSkills)
	api.HandleFunc("GET /api/models", h.listModelConfigs)
	api.HandleFunc("GET /api/mcp/servers", h.listMCPServers)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/mcp/servers", h.createMCPServer)
	admin.HandleFunc("PUT /api/mcp/servers/{name}", h.updateMCPServer)
	admin.HandleFunc("DELETE /api/mcp/servers/{name}", h.deleteMCPServer)
	admin.HandleFunc("POST /api/mcp/servers/{name}/test", h.testMCPServer)
	admin.HandleFunc("POST /api/skills", h.installSkill)
	admin.HandleFunc("POST /api/skills/{name}/activate", h.setSkillActive(true))
	admin.HandleFunc("POST /api/skills/{name}/deactivate", h.setSkillActive(false))
	admin.HandleFunc("POST /api/models", h.upsertModelConfig)

	api.Handle("/", auth.RequireAdmin(admin))
	h.mux.Handle("/api/", authed(api))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.cfg.Logger.Error(context.Background(), "json encode error", "error", err)
	}
}

// jsonStatus writes a JSON response with an explicit status code.
func (h *Handler) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.cfg.Logger.Error(context.Background(), "json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		h.jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, session.ErrForbidden):
		h.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, session.ErrTurnInProgress):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrNoModelConfig):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeJSON decodes a request body, rejecting unknown garbage politely.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// currentUser returns the authenticated user; the auth middleware guarantees
// presence on /api routes.
func currentUser(r *http.Request) *models.User {
	user, _ := auth.CurrentUser(r.Context())
	return user
}

// ownedConversation loads a conversation and enforces ownership.
func (h *Handler) ownedConversation(r *http.Request) (*models.Conversation, error) {
	conv, err := h.cfg.Repo.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	user := currentUser(r)
	if conv.UserID != user.ID && !user.IsAdmin {
		return nil, session.ErrForbidden
	}
	return conv, nil
}
