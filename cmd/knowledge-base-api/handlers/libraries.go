package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/service"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
)

// LibraryHandler handles library CRUD and permission management.
type LibraryHandler struct {
	logger *observability.Logger
	svc    *service.Service
}

// NewLibraryHandler creates a library handler.
func NewLibraryHandler(logger *observability.Logger, svc *service.Service) *LibraryHandler {
	return &LibraryHandler{logger: logger, svc: svc}
}

// LibraryDTO is the wire shape of a library.
type LibraryDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toLibraryDTO(l *storage.Library) LibraryDTO {
	return LibraryDTO{
		ID:          l.ID.String(),
		Name:        l.Name,
		Description: l.Description,
		OwnerID:     l.OwnerID.String(),
		IsPublic:    l.IsPublic,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// libraryRequest is the create/update request body.
type libraryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

// Create handles POST /libraries.
func (h *LibraryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())

	var req libraryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.Wrap(kberrors.KindInputInvalid, "invalid request body", err))
		return
	}

	library, err := h.svc.CreateLibrary(r.Context(), userID, req.Name, req.Description, req.IsPublic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLibraryDTO(library))
}

// List handles GET /libraries.
func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())

	libraries, err := h.svc.ListLibraries(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]LibraryDTO, 0, len(libraries))
	for _, l := range libraries {
		dtos = append(dtos, toLibraryDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Get handles GET /libraries/{libraryID}.
func (h *LibraryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	library, err := h.svc.GetLibrary(r.Context(), userID, libraryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLibraryDTO(library))
}

// Update handles PUT /libraries/{libraryID}.
func (h *LibraryHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req libraryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.Wrap(kberrors.KindInputInvalid, "invalid request body", err))
		return
	}

	library, err := h.svc.UpdateLibrary(r.Context(), userID, libraryID, req.Name, req.Description, req.IsPublic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLibraryDTO(library))
}

// Delete handles DELETE /libraries/{libraryID}.
func (h *LibraryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DeleteLibrary(r.Context(), userID, libraryID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Permission handles GET /libraries/{libraryID}/permission and reports the
// caller's own effective permission.
func (h *LibraryHandler) Permission(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	kind := h.svc.EffectivePermission(r.Context(), userID, libraryID)
	writeJSON(w, http.StatusOK, map[string]string{"permission": kind.String()})
}

// PermissionDTO is the wire shape of a permission grant.
type PermissionDTO struct {
	LibraryID  string    `json:"library_id"`
	UserID     string    `json:"user_id"`
	Permission string    `json:"permission"`
	GrantedBy  string    `json:"granted_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// grantRequest is the grant request body.
type grantRequest struct {
	Permission string `json:"permission"` // read, write, or admin
}

func parsePermission(s string) (storage.PermissionKind, error) {
	switch s {
	case "read":
		return storage.PermissionRead, nil
	case "write":
		return storage.PermissionWrite, nil
	case "admin":
		return storage.PermissionAdmin, nil
	}
	return storage.PermissionNone, kberrors.Newf(kberrors.KindInputInvalid, "unknown permission %q", s)
}

// ListPermissions handles GET /libraries/{libraryID}/permissions.
func (h *LibraryHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}

	perms, err := h.svc.ListPermissions(r.Context(), userID, libraryID)
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]PermissionDTO, 0, len(perms))
	for _, p := range perms {
		dtos = append(dtos, PermissionDTO{
			LibraryID:  p.LibraryID.String(),
			UserID:     p.UserID.String(),
			Permission: p.Kind.String(),
			GrantedBy:  p.GrantedByUserID.String(),
			CreatedAt:  p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Grant handles PUT /libraries/{libraryID}/permissions/{userID}.
func (h *LibraryHandler) Grant(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}
	granteeID, err := pathUUID(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.Wrap(kberrors.KindInputInvalid, "invalid request body", err))
		return
	}
	kind, err := parsePermission(req.Permission)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.GrantPermission(r.Context(), callerID, libraryID, granteeID, kind); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke handles DELETE /libraries/{libraryID}/permissions/{userID}.
func (h *LibraryHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	callerID, _ := middleware.UserFromContext(r.Context())
	libraryID, err := pathUUID(r, "libraryID")
	if err != nil {
		writeError(w, err)
		return
	}
	granteeID, err := pathUUID(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.RevokePermission(r.Context(), callerID, libraryID, granteeID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
