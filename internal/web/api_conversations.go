package web

import (
	"net/http"
	"strconv"

	"github.com/deepserve/deepserve/pkg/models"
)

// conversationListResponse is the JSON response for the conversation list.
type conversationListResponse struct {
	Conversations []*models.Conversation `json:"conversations"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	conversations, err := h.cfg.Repo.ListConversations(r.Context(), currentUser(r).ID, includeArchived, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, conversationListResponse{
		Conversations: conversations,
		Limit:         limit,
		Offset:        offset,
	})
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	conv, err := h.cfg.Repo.CreateConversation(r.Context(), currentUser(r).ID, body.Title)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, conv)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, conv)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.cfg.Repo.DeleteConversation(r.Context(), conv.ID); err != nil {
		h.writeError(w, err)
		return
	}
	if h.cfg.Sandboxes != nil {
		// Container cleanup is best effort; the rows are already gone.
		if err := h.cfg.Sandboxes.Purge(r.Context(), conv.ID); err != nil {
			h.cfg.Logger.Warn(r.Context(), "sandbox purge failed", "conversation_id", conv.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) archiveConversation(w http.ResponseWriter, r *http.Request) {
	h.toggleConversation(w, r, func(conv *models.Conversation, on bool) error {
		return h.cfg.Repo.SetConversationArchived(r.Context(), conv.ID, on)
	})
}

func (h *Handler) starConversation(w http.ResponseWriter, r *http.Request) {
	h.toggleConversation(w, r, func(conv *models.Conversation, on bool) error {
		return h.cfg.Repo.SetConversationStarred(r.Context(), conv.ID, on)
	})
}

// toggleConversation flips a boolean conversation attribute. The body is
// {"value": bool}; absent body means true.
func (h *Handler) toggleConversation(w http.ResponseWriter, r *http.Request, set func(*models.Conversation, bool) error) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	value := true
	if r.ContentLength > 0 {
		var body struct {
			Value *bool `json:"value"`
		}
		if err := decodeJSON(r, &body); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Value != nil {
			value = *body.Value
		}
	}

	if err := set(conv, value); err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]bool{"value": value})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	limit := parseIntParam(r, "limit", 200)
	offset := parseIntParam(r, "offset", 0)
	messages, err := h.cfg.Repo.ListMessages(r.Context(), conv.ID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"messages": messages})
}

func (h *Handler) getTodos(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	todos := conv.State.Todos
	if todos == nil {
		todos = []models.Todo{}
	}
	h.jsonResponse(w, map[string]any{"todos": todos})
}

func (h *Handler) putTodos(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Todos []models.Todo `json:"todos"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := models.ValidateTodos(body.Todos); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	state := conv.State
	state.Todos = body.Todos
	if err := h.cfg.Repo.SaveConversationState(r.Context(), conv.ID, state); err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"todos": body.Todos})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
