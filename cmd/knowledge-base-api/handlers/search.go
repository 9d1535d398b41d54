package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/service"
)

// SearchHandler handles semantic search requests.
type SearchHandler struct {
	logger *observability.Logger
	svc    *service.Service
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(logger *observability.Logger, svc *service.Service) *SearchHandler {
	return &SearchHandler{logger: logger, svc: svc}
}

// searchRequest is the search request body.
type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Search handles POST /libraries/{libraryID}/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.Wrap(kberrors.KindInputInvalid, "invalid request body", err))
		return
	}

	result, err := h.svc.Search(r.Context(), userID, libraryID, req.Query, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
