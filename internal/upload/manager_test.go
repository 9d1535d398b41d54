package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/authz"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/cache"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

type managerFixture struct {
	manager *Manager
	repos   *storage.Repositories
	fs      *blobfs.Mem
	owner   *storage.User
	reader  *storage.User
	library *storage.Library
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrator(db, storage.DriverSQLite).Up(ctx))

	repos := storage.NewRepositories(db)

	owner := &storage.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, repos.Users.Create(ctx, owner))
	reader := &storage.User{Email: "reader@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, repos.Users.Create(ctx, reader))

	library := &storage.Library{Name: "docs", OwnerID: owner.ID}
	require.NoError(t, repos.Libraries.Create(ctx, library))
	require.NoError(t, repos.Permissions.Upsert(ctx, &storage.LibraryPermission{
		LibraryID: library.ID, UserID: reader.ID, Kind: storage.PermissionRead, GrantedByUserID: owner.ID,
	}))

	fs := blobfs.NewMem()
	log := observability.Nop()

	indexer := ingest.NewIndexer(db, fs, vectorstore.New(32), embedding.NewMockClient(32), tokenizer.NewHeuristic(),
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

	manager := NewManager(
		cache.NewMemoryClient(),
		fs,
		db,
		authz.New(repos.Libraries, repos.Permissions, log),
		indexer,
		ManagerConfig{MaxFileSize: 10 << 20, SessionTTL: time.Hour},
		log,
	)

	return &managerFixture{manager: manager, repos: repos, fs: fs, owner: owner, reader: reader, library: library}
}

func uploadPayload(size int) []byte {
	sentences := "Cats sleep on warm couches. Dogs chase balls in parks. "
	payload := bytes.Repeat([]byte(sentences), size/len(sentences)+1)
	return payload[:size]
}

func TestManager_ChunkedUploadHappyPath(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	payload := uploadPayload(2048)
	session, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", 2048, 1024, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.TotalChunks())

	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 0, bytes.NewReader(payload[:1024])))
	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 1, bytes.NewReader(payload[1024:])))

	file, err := f.manager.Complete(ctx, session.SessionID)
	require.NoError(t, err)

	wantHash := sha256.Sum256(payload)
	assert.Equal(t, wantHash[:], file.Hash)
	assert.Equal(t, int64(2048), file.SizeInBytes)
	assert.Contains(t, file.RelativePath, f.library.ID.String())
	assert.True(t, strings.HasSuffix(file.RelativePath, "doc.md"))

	// The blob landed at its final path and the file was indexed inline.
	size, err := f.fs.Stat(ctx, file.RelativePath)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), size)

	kf, err := f.repos.Files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.FileStatusIndexed, kf.Status)

	sections, err := f.repos.Sections.ListByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, sections)

	_, err = f.manager.GetStatus(ctx, session.SessionID)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
}

func TestManager_OutOfOrderChunks(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	payload := uploadPayload(2500)
	session, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", 2500, 1024, f.owner.ID)
	require.NoError(t, err)
	require.Equal(t, 3, session.TotalChunks())

	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 2, bytes.NewReader(payload[2048:])))
	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 0, bytes.NewReader(payload[:1024])))
	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 1, bytes.NewReader(payload[1024:2048])))

	file, err := f.manager.Complete(ctx, session.SessionID)
	require.NoError(t, err)

	wantHash := sha256.Sum256(payload)
	assert.Equal(t, wantHash[:], file.Hash)
}

func TestManager_DuplicateChunkConflictKeepsSessionUsable(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	payload := uploadPayload(2048)
	session, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", 2048, 1024, f.owner.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 0, bytes.NewReader(payload[:1024])))

	err = f.manager.UploadChunk(ctx, session.SessionID, 0, bytes.NewReader(payload[:1024]))
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindConflict))

	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 1, bytes.NewReader(payload[1024:])))
	_, err = f.manager.Complete(ctx, session.SessionID)
	require.NoError(t, err)
}

func TestManager_InitiateValidation(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		totalSize int64
		chunkSize int64
	}{
		{"zero chunk size", 2048, 0},
		{"chunk larger than total", 1024, 2048},
		{"zero total size", 0, 1},
		{"total above limit", (10 << 20) + 1, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", tt.totalSize, tt.chunkSize, f.owner.ID)
			require.Error(t, err)
			assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))
		})
	}
}

func TestManager_ReaderCannotInitiate(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Initiate(context.Background(), f.library.ID, "doc.md", "text/markdown", 2048, 1024, f.reader.ID)
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindUnauthorized))
}

func TestManager_ChunkNumberOutOfRange(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", 2048, 1024, f.owner.ID)
	require.NoError(t, err)

	err = f.manager.UploadChunk(ctx, session.SessionID, 2, bytes.NewReader([]byte("x")))
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))

	err = f.manager.UploadChunk(ctx, session.SessionID, -1, bytes.NewReader([]byte("x")))
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))
}

func TestManager_CompleteRequiresAllChunks(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	payload := uploadPayload(2048)
	session, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", 2048, 1024, f.owner.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 0, bytes.NewReader(payload[:1024])))

	_, err = f.manager.Complete(ctx, session.SessionID)
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))

	// Session survives a failed completion attempt.
	status, err := f.manager.GetStatus(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, status.UploadedChunks)
}

func TestManager_Cancel(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	payload := uploadPayload(1024)
	session, err := f.manager.Initiate(ctx, f.library.ID, "doc.md", "text/markdown", 1024, 512, f.owner.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.UploadChunk(ctx, session.SessionID, 0, bytes.NewReader(payload[:512])))

	require.NoError(t, f.manager.Cancel(ctx, session.SessionID))

	_, err = f.manager.GetStatus(ctx, session.SessionID)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
	_, err = f.fs.Stat(ctx, session.TempBlobPath)
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
}

func TestManager_UnknownSession(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.GetStatus(context.Background(), uuid.New())
	assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
}

func TestSession_TotalChunks(t *testing.T) {
	s := &Session{TotalSize: 2048, ChunkSize: 1024}
	assert.Equal(t, 2, s.TotalChunks())

	s = &Session{TotalSize: 2049, ChunkSize: 1024}
	assert.Equal(t, 3, s.TotalChunks())

	s = &Session{TotalSize: 1, ChunkSize: 1024}
	assert.Equal(t, 1, s.TotalChunks())
}
