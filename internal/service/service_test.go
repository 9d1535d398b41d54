package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/authz"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/search"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

type serviceFixture struct {
	svc      *Service
	repos    *storage.Repositories
	fs       *blobfs.Mem
	vectors  *vectorstore.Store
	owner    *storage.User
	stranger *storage.User
	library  *storage.Library
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrator(db, storage.DriverSQLite).Up(ctx))

	repos := storage.NewRepositories(db)
	log := observability.Nop()

	owner := &storage.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, repos.Users.Create(ctx, owner))
	stranger := &storage.User{Email: "stranger@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, repos.Users.Create(ctx, stranger))

	library := &storage.Library{Name: "docs", OwnerID: owner.ID}
	require.NoError(t, repos.Libraries.Create(ctx, library))

	fs := blobfs.NewMem()
	vectors := vectorstore.New(32)
	embedder := embedding.NewMockClient(32)

	indexer := ingest.NewIndexer(db, fs, vectors, embedder, tokenizer.NewHeuristic(),
		ingest.IndexerConfig{
			MaxTokensPerChunk: 32,
			Sections: ingest.SectionReaderConfig{
				MaxTokensPerSection:        128,
				MinChunksPerSection:        1,
				LookaheadBufferSize:        16,
				StdDevMultiplier:           1.0,
				MinimumSimilarityThreshold: 0.65,
				TokenStrictnessThreshold:   0.75,
			},
		}, log)

	auth := authz.New(repos.Libraries, repos.Permissions, log)
	searcher := search.New(embedder, vectors, repos, search.Config{}, log)

	svc := New(repos, auth, fs, vectors, searcher, indexer, log)
	return &serviceFixture{svc: svc, repos: repos, fs: fs, vectors: vectors, owner: owner, stranger: stranger, library: library}
}

// uploadFile writes a blob and indexes it through the service's indexer,
// simulating a completed upload.
func (f *serviceFixture) uploadFile(t *testing.T, content string) *storage.LibraryFile {
	t.Helper()
	ctx := context.Background()

	fileID := uuid.New()
	relPath := "libraries/" + f.library.ID.String() + "/" + fileID.String() + "/doc.md"
	_, err := f.fs.Write(ctx, relPath, strings.NewReader(content))
	require.NoError(t, err)

	file := &storage.LibraryFile{
		ID:               fileID,
		LibraryID:        f.library.ID,
		OriginalFileName: "doc.md",
		ContentType:      "text/markdown",
		SizeInBytes:      int64(len(content)),
		RelativePath:     relPath,
		Hash:             make([]byte, 32),
		UploadedByUserID: f.owner.ID,
	}
	require.NoError(t, f.repos.LibraryFiles.Create(ctx, file))

	outcome, err := f.svc.ReindexFile(ctx, f.owner.ID, f.library.ID, fileID)
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeIndexed, outcome)
	return file
}

func TestService_LibraryLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateLibrary(ctx, f.owner.ID, "notes", "personal notes", false)
	require.NoError(t, err)
	assert.Equal(t, f.owner.ID, created.OwnerID)

	_, err = f.svc.CreateLibrary(ctx, f.owner.ID, "", "", false)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))

	updated, err := f.svc.UpdateLibrary(ctx, f.owner.ID, created.ID, "notes-v2", "updated", true)
	require.NoError(t, err)
	assert.Equal(t, "notes-v2", updated.Name)
	assert.True(t, updated.IsPublic)

	// A stranger can read a public library but not update it.
	got, err := f.svc.GetLibrary(ctx, f.stranger.ID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes-v2", got.Name)

	_, err = f.svc.UpdateLibrary(ctx, f.stranger.ID, created.ID, "hijacked", "", false)
	assert.True(t, kberrors.IsKind(err, kberrors.KindUnauthorized))

	require.NoError(t, f.svc.DeleteLibrary(ctx, f.owner.ID, created.ID))
	_, err = f.svc.GetLibrary(ctx, f.owner.ID, created.ID)
	assert.True(t, kberrors.IsKind(err, kberrors.KindUnauthorized))
}

func TestService_ListLibrariesVisibility(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	mine, err := f.svc.ListLibraries(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.library.ID, mine[0].ID)

	theirs, err := f.svc.ListLibraries(ctx, f.stranger.ID)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestService_Permissions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.GrantPermission(ctx, f.owner.ID, f.library.ID, f.stranger.ID, storage.PermissionWrite))
	assert.Equal(t, storage.PermissionWrite, f.svc.EffectivePermission(ctx, f.stranger.ID, f.library.ID))

	perms, err := f.svc.ListPermissions(ctx, f.owner.ID, f.library.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, f.stranger.ID, perms[0].UserID)

	// Non-admins cannot manage grants, even with Write access.
	err = f.svc.GrantPermission(ctx, f.stranger.ID, f.library.ID, uuid.New(), storage.PermissionRead)
	assert.True(t, kberrors.IsKind(err, kberrors.KindUnauthorized))

	// Granting to the owner is rejected.
	err = f.svc.GrantPermission(ctx, f.owner.ID, f.library.ID, f.owner.ID, storage.PermissionRead)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))

	require.NoError(t, f.svc.RevokePermission(ctx, f.owner.ID, f.library.ID, f.stranger.ID))
	assert.Equal(t, storage.PermissionNone, f.svc.EffectivePermission(ctx, f.stranger.ID, f.library.ID))

	err = f.svc.RevokePermission(ctx, f.owner.ID, f.library.ID, f.stranger.ID)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
}

func TestService_FileOperations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	content := "# Cats\n\nCats sleep on warm couches. Cats purr when content.\n"
	file := f.uploadFile(t, content)

	files, err := f.svc.ListFiles(ctx, f.owner.ID, f.library.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	info, err := f.svc.GetFileInfo(ctx, f.owner.ID, f.library.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc.md", info.OriginalFileName)

	_, rc, err := f.svc.DownloadFile(ctx, f.owner.ID, f.library.ID, file.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, string(data))

	_, err = f.svc.GetFileInfo(ctx, f.stranger.ID, f.library.ID, file.ID)
	assert.True(t, kberrors.IsKind(err, kberrors.KindUnauthorized))

	require.NoError(t, f.svc.DeleteFile(ctx, f.owner.ID, f.library.ID, file.ID))

	_, err = f.svc.GetFileInfo(ctx, f.owner.ID, f.library.ID, file.ID)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
	assert.Zero(t, f.vectors.Count(f.library.ID))
	_, err = f.fs.Stat(ctx, file.RelativePath)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
}

func TestService_SearchRequiresRead(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.uploadFile(t, "# Cats\n\nCats sleep on warm couches. Cats purr when content.\n")

	result, err := f.svc.Search(ctx, f.owner.ID, f.library.ID, "cats sleeping", 5)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Entries)

	_, err = f.svc.Search(ctx, f.stranger.ID, f.library.ID, "cats sleeping", 5)
	assert.True(t, kberrors.IsKind(err, kberrors.KindUnauthorized))
}

func TestService_RehydrateVectors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.uploadFile(t, "# Cats\n\nCats sleep on warm couches. Cats purr when content.\n")
	indexed := f.vectors.Count(f.library.ID)
	require.Positive(t, indexed)

	// Wipe the in-memory index and rebuild it from persisted embeddings.
	f.vectors.RemoveLibrary(f.library.ID)
	require.Zero(t, f.vectors.Count(f.library.ID))

	require.NoError(t, f.svc.RehydrateVectors(ctx))
	assert.Equal(t, indexed, f.vectors.Count(f.library.ID))
}

func TestService_DeleteLibraryPurgesEverything(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	file := f.uploadFile(t, "# Cats\n\nCats sleep on warm couches. Cats purr when content.\n")

	require.NoError(t, f.svc.DeleteLibrary(ctx, f.owner.ID, f.library.ID))

	assert.Zero(t, f.vectors.Count(f.library.ID))
	_, err := f.repos.Files.GetByID(ctx, file.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.fs.Stat(ctx, file.RelativePath)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
}
