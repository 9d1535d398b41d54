package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/chat"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/service"
)

// ChatHandler answers questions over a library by retrieving context and
// streaming a model completion back as server-sent events.
type ChatHandler struct {
	logger *observability.Logger
	svc    *service.Service
	chat   *chat.Client
}

// NewChatHandler creates a chat handler.
func NewChatHandler(logger *observability.Logger, svc *service.Service, chatClient *chat.Client) *ChatHandler {
	return &ChatHandler{logger: logger, svc: svc, chat: chatClient}
}

// chatRequest is the chat request body. The last user message doubles as
// the retrieval query unless an explicit query is given.
type chatRequest struct {
	Query    string         `json:"query,omitempty"`
	Messages []chat.Message `json:"messages"`
}

// Stream handles POST /libraries/{libraryID}/chat.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.Wrap(kberrors.KindInputInvalid, "invalid request body", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, kberrors.New(kberrors.KindInputInvalid, "messages must not be empty"))
		return
	}

	query := req.Query
	if query == "" {
		query = req.Messages[len(req.Messages)-1].Content
	}

	result, err := h.svc.Search(r.Context(), userID, libraryID, query, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, kberrors.New(kberrors.KindUnknown, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Send the retrieval result first so clients can show sources while
	// the completion streams.
	if err := writeEvent("sources", result); err != nil {
		return
	}

	err = h.chat.Stream(r.Context(), result.Context, req.Messages, func(delta string) error {
		return writeEvent("delta", map[string]string{"content": delta})
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("library_id", libraryID.String()).Msg("chat stream failed")
		_ = writeEvent("error", map[string]string{"error": err.Error()})
		return
	}
	_ = writeEvent("done", map[string]string{})
}
