package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/upload"
)

// UploadHandler handles chunked file uploads.
type UploadHandler struct {
	logger  *observability.Logger
	manager *upload.Manager
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(logger *observability.Logger, manager *upload.Manager) *UploadHandler {
	return &UploadHandler{logger: logger, manager: manager}
}

// initiateRequest is the upload initiation request body.
type initiateRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	TotalSize   int64  `json:"total_size"`
	ChunkSize   int64  `json:"chunk_size"`
}

// SessionDTO is the wire shape of an upload session.
type SessionDTO struct {
	SessionID      string    `json:"session_id"`
	LibraryID      string    `json:"library_id"`
	FileName       string    `json:"file_name"`
	TotalSize      int64     `json:"total_size"`
	ChunkSize      int64     `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	UploadedChunks []int     `json:"uploaded_chunks"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func toSessionDTO(s *upload.Session) SessionDTO {
	uploaded := s.UploadedChunks
	if uploaded == nil {
		uploaded = []int{}
	}
	return SessionDTO{
		SessionID:      s.SessionID.String(),
		LibraryID:      s.LibraryID.String(),
		FileName:       s.OriginalFileName,
		TotalSize:      s.TotalSize,
		ChunkSize:      s.ChunkSize,
		TotalChunks:    s.TotalChunks(),
		UploadedChunks: uploaded,
		ExpiresAt:      s.ExpiresAt,
	}
}

// Initiate handles POST /libraries/{libraryID}/uploads.
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.Wrap(kberrors.KindInputInvalid, "invalid request body", err))
		return
	}

	session, err := h.manager.Initiate(r.Context(), libraryID, req.FileName, req.ContentType, req.TotalSize, req.ChunkSize, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// UploadChunk handles PUT /uploads/{sessionID}/chunks/{chunkNumber}. The
// request body is the raw chunk payload.
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}
	chunkNumber, err := strconv.Atoi(chi.URLParam(r, "chunkNumber"))
	if err != nil {
		writeError(w, kberrors.New(kberrors.KindInputInvalid, "invalid chunk number"))
		return
	}

	if err := h.manager.UploadChunk(r.Context(), sessionID, chunkNumber, r.Body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Complete handles POST /uploads/{sessionID}/complete. The file is indexed
// before the response is written, so a 201 means the file is searchable.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}

	file, err := h.manager.Complete(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileDTO(file))
}

// Cancel handles DELETE /uploads/{sessionID}.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.manager.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /uploads/{sessionID}.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "sessionID")
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.manager.GetStatus(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}
