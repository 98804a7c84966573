package web

import (
	"net/http"
	"strings"

	"github.com/deepserve/deepserve/pkg/models"
)

func (h *Handler) listModelConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.cfg.Repo.ListModelConfigs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"models": configs})
}

// upsertModelConfig creates or replaces a named model configuration and
// drops any cached provider built from the old row.
func (h *Handler) upsertModelConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.LLMModelConfig
	if err := decodeJSON(r, &cfg); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(cfg.Name) == "" || strings.TrimSpace(cfg.ModelID) == "" {
		h.jsonError(w, "name and model_id are required", http.StatusBadRequest)
		return
	}
	switch cfg.Provider {
	case "anthropic", "openai", "openai-compatible":
	default:
		h.jsonError(w, "provider must be anthropic, openai or openai-compatible", http.StatusBadRequest)
		return
	}

	if err := h.cfg.Repo.UpsertModelConfig(r.Context(), &cfg); err != nil {
		h.writeError(w, err)
		return
	}
	if h.cfg.Providers != nil {
		h.cfg.Providers.Invalidate(cfg.Name)
	}
	h.jsonStatus(w, http.StatusCreated, &cfg)
}
