// Package service exposes the knowledge base's transport-agnostic
// operations. Every operation authorizes the calling user before touching
// data.
package service

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/authz"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/search"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

// Service glues authorization, storage, blobs, indexing, and search into
// the operation surface consumed by transports.
type Service struct {
	repos    *storage.Repositories
	auth     *authz.Authorizer
	fs       blobfs.FS
	vectors  *vectorstore.Store
	searcher *search.Searcher
	indexer  *ingest.Indexer
	log      *observability.Logger
}

// New creates the service.
func New(
	repos *storage.Repositories,
	auth *authz.Authorizer,
	fs blobfs.FS,
	vectors *vectorstore.Store,
	searcher *search.Searcher,
	indexer *ingest.Indexer,
	log *observability.Logger,
) *Service {
	return &Service{
		repos:    repos,
		auth:     auth,
		fs:       fs,
		vectors:  vectors,
		searcher: searcher,
		indexer:  indexer,
		log:      log,
	}
}

// CreateLibrary creates a library owned by the caller.
func (s *Service) CreateLibrary(ctx context.Context, userID uuid.UUID, name, description string, isPublic bool) (*storage.Library, error) {
	if name == "" {
		return nil, kberrors.New(kberrors.KindInputInvalid, "library name must not be empty")
	}
	library := &storage.Library{
		Name:        name,
		Description: description,
		OwnerID:     userID,
		IsPublic:    isPublic,
	}
	if err := s.repos.Libraries.Create(ctx, library); err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "create library", err)
	}
	return library, nil
}

// GetLibrary returns a library the caller can read.
func (s *Service) GetLibrary(ctx context.Context, userID, libraryID uuid.UUID) (*storage.Library, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionRead, "view this library"); err != nil {
		return nil, err
	}
	library, err := s.repos.Libraries.GetByID(ctx, libraryID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, kberrors.Newf(kberrors.KindNotFound, "library %s not found", libraryID)
	}
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "load library", err)
	}
	return library, nil
}

// ListLibraries returns the libraries visible to the caller.
func (s *Service) ListLibraries(ctx context.Context, userID uuid.UUID) ([]*storage.Library, error) {
	libraries, err := s.repos.Libraries.ListForUser(ctx, userID)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "list libraries", err)
	}
	return libraries, nil
}

// UpdateLibrary updates a library's name, description, and visibility.
func (s *Service) UpdateLibrary(ctx context.Context, userID, libraryID uuid.UUID, name, description string, isPublic bool) (*storage.Library, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionAdmin, "update this library"); err != nil {
		return nil, err
	}
	library, err := s.repos.Libraries.GetByID(ctx, libraryID)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "load library", err)
	}
	if name != "" {
		library.Name = name
	}
	library.Description = description
	library.IsPublic = isPublic
	if err := s.repos.Libraries.Update(ctx, library); err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "update library", err)
	}
	return library, nil
}

// DeleteLibrary removes a library with all its files, index data, vectors,
// and blobs. Admin only.
func (s *Service) DeleteLibrary(ctx context.Context, userID, libraryID uuid.UUID) error {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionAdmin, "delete this library"); err != nil {
		return err
	}

	files, err := s.repos.LibraryFiles.ListByLibrary(ctx, libraryID)
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "list library files", err)
	}
	for _, file := range files {
		if err := s.indexer.DeleteFile(ctx, libraryID, file.ID); err != nil {
			return err
		}
	}

	if err := s.repos.Libraries.Delete(ctx, libraryID); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "delete library", err)
	}
	s.vectors.RemoveLibrary(libraryID)

	if err := s.fs.RemoveAll(ctx, path.Join("libraries", libraryID.String())); err != nil {
		s.log.Warn().Err(err).Str("library_id", libraryID.String()).Msg("failed to remove library blobs")
	}

	s.log.WithLibrary(libraryID.String()).Info().Int("files", len(files)).Msg("library deleted")
	return nil
}

// GrantPermission creates or replaces an explicit grant. Admin only.
// Owners cannot be granted anything: ownership already implies Admin.
func (s *Service) GrantPermission(ctx context.Context, userID, libraryID, granteeID uuid.UUID, kind storage.PermissionKind) error {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionAdmin, "manage permissions on this library"); err != nil {
		return err
	}
	if kind < storage.PermissionRead || kind > storage.PermissionAdmin {
		return kberrors.Newf(kberrors.KindInputInvalid, "invalid permission kind %d", kind)
	}

	library, err := s.repos.Libraries.GetByID(ctx, libraryID)
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "load library", err)
	}
	if library.OwnerID == granteeID {
		return kberrors.New(kberrors.KindInputInvalid, "library owner already has admin access")
	}

	err = s.repos.Permissions.Upsert(ctx, &storage.LibraryPermission{
		LibraryID:       libraryID,
		UserID:          granteeID,
		Kind:            kind,
		GrantedByUserID: userID,
	})
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "grant permission", err)
	}
	return nil
}

// RevokePermission removes an explicit grant. Admin only.
func (s *Service) RevokePermission(ctx context.Context, userID, libraryID, granteeID uuid.UUID) error {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionAdmin, "manage permissions on this library"); err != nil {
		return err
	}
	err := s.repos.Permissions.Delete(ctx, libraryID, granteeID)
	if errors.Is(err, storage.ErrNotFound) {
		return kberrors.New(kberrors.KindNotFound, "permission grant not found")
	}
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "revoke permission", err)
	}
	return nil
}

// ListPermissions lists explicit grants on a library. Admin only.
func (s *Service) ListPermissions(ctx context.Context, userID, libraryID uuid.UUID) ([]*storage.LibraryPermission, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionAdmin, "view permissions on this library"); err != nil {
		return nil, err
	}
	perms, err := s.repos.Permissions.ListByLibrary(ctx, libraryID)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "list permissions", err)
	}
	return perms, nil
}

// EffectivePermission reports the caller's permission on a library.
func (s *Service) EffectivePermission(ctx context.Context, userID, libraryID uuid.UUID) storage.PermissionKind {
	return s.auth.EffectivePermission(ctx, userID, libraryID)
}

// ListFiles lists a library's files for a reader.
func (s *Service) ListFiles(ctx context.Context, userID, libraryID uuid.UUID) ([]*storage.LibraryFile, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionRead, "list files in this library"); err != nil {
		return nil, err
	}
	files, err := s.repos.LibraryFiles.ListByLibrary(ctx, libraryID)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "list files", err)
	}
	return files, nil
}

// GetFileInfo returns one file's catalog record for a reader.
func (s *Service) GetFileInfo(ctx context.Context, userID, libraryID, fileID uuid.UUID) (*storage.LibraryFile, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionRead, "view this file"); err != nil {
		return nil, err
	}
	file, err := s.repos.LibraryFiles.GetByID(ctx, libraryID, fileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, kberrors.Newf(kberrors.KindNotFound, "file %s not found", fileID)
	}
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "load file", err)
	}
	return file, nil
}

// DownloadFile opens the file's blob for a reader. The caller closes it.
func (s *Service) DownloadFile(ctx context.Context, userID, libraryID, fileID uuid.UUID) (*storage.LibraryFile, io.ReadCloser, error) {
	file, err := s.GetFileInfo(ctx, userID, libraryID, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.fs.Open(ctx, file.RelativePath)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

// DeleteFile removes a file's blob, catalog row, index data, and vectors.
// Requires Write access.
func (s *Service) DeleteFile(ctx context.Context, userID, libraryID, fileID uuid.UUID) error {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionWrite, "delete files in this library"); err != nil {
		return err
	}
	file, err := s.repos.LibraryFiles.GetByID(ctx, libraryID, fileID)
	if errors.Is(err, storage.ErrNotFound) {
		return kberrors.Newf(kberrors.KindNotFound, "file %s not found", fileID)
	}
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "load file", err)
	}

	if err := s.indexer.DeleteFile(ctx, libraryID, fileID); err != nil {
		return err
	}
	if err := s.repos.LibraryFiles.Delete(ctx, libraryID, fileID); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "delete file record", err)
	}
	if err := s.fs.RemoveAll(ctx, path.Dir(file.RelativePath)); err != nil {
		s.log.Warn().Err(err).Str("path", file.RelativePath).Msg("failed to remove file blob")
	}

	s.log.WithLibrary(libraryID.String()).WithFile(fileID.String()).Info().Msg("file deleted")
	return nil
}

// Search runs a relevance-ranked search over a library the caller can read.
func (s *Service) Search(ctx context.Context, userID, libraryID uuid.UUID, query string, k int) (*search.Result, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionRead, "search this library"); err != nil {
		return nil, err
	}
	return s.searcher.Search(ctx, libraryID, query, k), nil
}

// ReindexFile re-runs indexing for an existing file. Requires Write access.
func (s *Service) ReindexFile(ctx context.Context, userID, libraryID, fileID uuid.UUID) (ingest.Outcome, error) {
	if err := s.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionWrite, "reindex files in this library"); err != nil {
		return 0, err
	}
	file, err := s.repos.LibraryFiles.GetByID(ctx, libraryID, fileID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, kberrors.Newf(kberrors.KindNotFound, "file %s not found", fileID)
	}
	if err != nil {
		return 0, kberrors.Wrap(kberrors.KindStorage, "load file", err)
	}
	return s.indexer.Index(ctx, ingest.FileSource{
		FileID:    file.ID,
		LibraryID: libraryID,
		Name:      file.OriginalFileName,
		BlobPath:  file.RelativePath,
	})
}

// RehydrateVectors rebuilds the vector index for every library from
// persisted chunk embeddings. Called once at startup.
func (s *Service) RehydrateVectors(ctx context.Context) error {
	libraries, err := s.repos.Libraries.ListAll(ctx)
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "list libraries for rehydration", err)
	}

	total := 0
	for _, library := range libraries {
		n, err := s.vectors.Rehydrate(ctx, library.ID, s.repos.Chunks)
		if err != nil {
			return err
		}
		total += n
	}
	s.log.Info().Int("libraries", len(libraries)).Int("vectors", total).Msg("vector index rehydrated")
	return nil
}
