// Package authz computes effective library permissions. Every decision
// fails closed: when anything goes wrong the caller gets None.
package authz

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
)

// LibraryGetter loads a library record.
type LibraryGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Library, error)
}

// PermissionGetter loads an explicit grant.
type PermissionGetter interface {
	Get(ctx context.Context, libraryID, userID uuid.UUID) (*storage.LibraryPermission, error)
}

// Authorizer resolves a user's effective permission on a library.
type Authorizer struct {
	libraries   LibraryGetter
	permissions PermissionGetter
	log         *observability.Logger
}

// New creates an authorizer.
func New(libraries LibraryGetter, permissions PermissionGetter, log *observability.Logger) *Authorizer {
	return &Authorizer{libraries: libraries, permissions: permissions, log: log}
}

// EffectivePermission computes the strongest applicable permission:
// ownership beats an explicit grant, which beats public read. Internal
// errors are logged and degrade to None.
func (a *Authorizer) EffectivePermission(ctx context.Context, userID, libraryID uuid.UUID) storage.PermissionKind {
	library, err := a.libraries.GetByID(ctx, libraryID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.PermissionNone
	}
	if err != nil {
		a.log.Error().Err(err).
			Str("library_id", libraryID.String()).
			Msg("library lookup failed, denying access")
		return storage.PermissionNone
	}

	if library.OwnerID == userID {
		return storage.PermissionAdmin
	}

	grant, err := a.permissions.Get(ctx, libraryID, userID)
	if err == nil {
		return grant.Kind
	}
	if !errors.Is(err, storage.ErrNotFound) {
		a.log.Error().Err(err).
			Str("library_id", libraryID.String()).
			Str("user_id", userID.String()).
			Msg("permission lookup failed, denying access")
		return storage.PermissionNone
	}

	if library.IsPublic {
		return storage.PermissionRead
	}
	return storage.PermissionNone
}

// HasPermission reports whether the user's effective permission meets required.
func (a *Authorizer) HasPermission(ctx context.Context, userID, libraryID uuid.UUID, required storage.PermissionKind) bool {
	return a.EffectivePermission(ctx, userID, libraryID).Satisfies(required)
}

// ValidateAccess returns an Unauthorized error naming the denied action when
// the user's effective permission is insufficient.
func (a *Authorizer) ValidateAccess(ctx context.Context, userID, libraryID uuid.UUID, required storage.PermissionKind, action string) error {
	if a.HasPermission(ctx, userID, libraryID, required) {
		return nil
	}
	return kberrors.Newf(kberrors.KindUnauthorized, "not authorized to %s", action)
}
