package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepserve/deepserve/internal/permissions"
	"github.com/deepserve/deepserve/internal/session"
	"github.com/deepserve/deepserve/pkg/models"
)

// maxUploadBytes bounds a single uploaded file.
const maxUploadBytes = 100 << 20

// chatRequest is the body of POST /api/conversations/{id}/chat. Tool and
// skill selections default to "auto" (everything permitted).
type chatRequest struct {
	Message         string                `json:"message"`
	ModelName       string                `json:"model_name"`
	UploadPath      string                `json:"upload_path"`
	EnableSubagents bool                  `json:"enable_subagents"`
	MCPTools        permissions.Selection `json:"mcp_tools"`
	Skills          permissions.Selection `json:"skills"`
}

// chat streams one turn as server-sent events. Frames are emitted as
// `data: <json>\n\n`; errors before the first frame map to plain HTTP
// statuses instead.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	body := chatRequest{MCPTools: permissions.Auto, Skills: permissions.Auto}
	if err := decodeJSON(r, &body); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		h.jsonError(w, "message must not be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	streaming := false
	emit := func(event models.ClientEvent) error {
		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			streaming = true
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.cfg.Session.StartTurn(r.Context(), currentUser(r), session.TurnRequest{
		ConversationID:  r.PathValue("id"),
		Message:         body.Message,
		ModelName:       body.ModelName,
		UploadPath:      body.UploadPath,
		EnableSubagents: body.EnableSubagents,
		MCPTools:        body.MCPTools,
		Skills:          body.Skills,
		Emit:            emit,
	})
	if err != nil && !streaming {
		h.writeError(w, err)
		return
	}
	if err != nil {
		// The engine already emitted the terminal error frame; nothing
		// useful can be added to a half-written stream.
		h.cfg.Logger.Warn(r.Context(), "turn ended with error", "error", err)
	}
}

// upload stores one multipart file into the conversation's upload directory
// and records it in the conversation state.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ownedConversation(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.jsonError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		h.jsonError(w, "invalid file name", http.StatusBadRequest)
		return
	}

	dir := h.cfg.AppConfig.UploadsDir(conv.UserID, conv.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.writeError(w, err)
		return
	}
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		h.writeError(w, err)
		return
	}

	containerPath := "/workspace/uploads/" + name
	state := conv.State
	if state.Uploads == nil {
		state.Uploads = make(map[string]string)
	}
	state.Uploads[name] = containerPath
	if err := h.cfg.Repo.SaveConversationState(r.Context(), conv.ID, state); err != nil {
		h.writeError(w, err)
		return
	}

	h.jsonStatus(w, http.StatusCreated, map[string]string{
		"filename": name,
		"path":     containerPath,
	})
}
