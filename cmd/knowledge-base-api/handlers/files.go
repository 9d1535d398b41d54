package handlers

import (
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/service"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
)

// FileHandler handles file catalog and download requests.
type FileHandler struct {
	logger *observability.Logger
	svc    *service.Service
}

// NewFileHandler creates a file handler.
func NewFileHandler(logger *observability.Logger, svc *service.Service) *FileHandler {
	return &FileHandler{logger: logger, svc: svc}
}

// FileDTO is the wire shape of a library file.
type FileDTO struct {
	ID          string    `json:"id"`
	LibraryID   string    `json:"library_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	SizeInBytes int64     `json:"size_in_bytes"`
	Hash        string    `json:"hash"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

func toFileDTO(f *storage.LibraryFile) FileDTO {
	return FileDTO{
		ID:          f.ID.String(),
		LibraryID:   f.LibraryID.String(),
		Name:        f.OriginalFileName,
		ContentType: f.ContentType,
		SizeInBytes: f.SizeInBytes,
		Hash:        hex.EncodeToString(f.Hash),
		UploadedBy:  f.UploadedByUserID.String(),
		UploadedAt:  f.UploadedAt,
	}
}

// List handles GET /libraries/{libraryID}/files.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	files, err := h.svc.ListFiles(r.Context(), userID, libraryID)
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]FileDTO, 0, len(files))
	for _, f := range files {
		dtos = append(dtos, toFileDTO(f))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Get handles GET /libraries/{libraryID}/files/{fileID}.
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}
	fileID, err := pathUUID(r, "fileID")
	if err != nil {
		writeError(w, err)
		return
	}

	file, err := h.svc.GetFileInfo(r.Context(), userID, libraryID, fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileDTO(file))
}

// Download handles GET /libraries/{libraryID}/files/{fileID}/download.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}
	fileID, err := pathUUID(r, "fileID")
	if err != nil {
		writeError(w, err)
		return
	}

	file, rc, err := h.svc.DownloadFile(r.Context(), userID, libraryID, fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.SizeInBytes, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.OriginalFileName+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn().Err(err).Str("file_id", fileID.String()).Msg("download interrupted")
	}
}

// Delete handles DELETE /libraries/{libraryID}/files/{fileID}.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}
	fileID, err := pathUUID(r, "fileID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DeleteFile(r.Context(), userID, libraryID, fileID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reindex handles POST /libraries/{libraryID}/files/{fileID}/reindex.
func (h *FileHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}
	fileID, err := pathUUID(r, "fileID")
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.svc.ReindexFile(r.Context(), userID, libraryID, fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}
