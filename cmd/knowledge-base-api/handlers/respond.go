// Package handlers provides HTTP handlers for the knowledge base API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
)

// errorResponse is the wire shape of every error reply.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error's kind onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := kberrors.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case kberrors.KindInputInvalid:
		status = http.StatusBadRequest
	case kberrors.KindUnauthorized:
		status = http.StatusForbidden
	case kberrors.KindNotFound:
		status = http.StatusNotFound
	case kberrors.KindConflict:
		status = http.StatusConflict
	case kberrors.KindIntegrity:
		status = http.StatusUnprocessableEntity
	case kberrors.KindEmbedding:
		status = http.StatusBadGateway
	case kberrors.KindCancelled:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Kind:      kind.String(),
		Retryable: kind.Retryable(),
	})
}

// pathUUID parses a UUID route parameter, returning uuid.Nil on failure.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, kberrors.Newf(kberrors.KindInputInvalid, "invalid %s", name)
	}
	return id, nil
}
