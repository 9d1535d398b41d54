package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewMigrator(db, DriverSQLite).Up(ctx))
	return db
}

func seedUser(t *testing.T, repos *Repositories, email string) *User {
	t.Helper()
	user := &User{Email: email, PasswordHash: "x", IsActive: true}
	require.NoError(t, repos.Users.Create(context.Background(), user))
	return user
}

func seedLibrary(t *testing.T, repos *Repositories, owner *User) *Library {
	t.Helper()
	library := &Library{Name: "docs", OwnerID: owner.ID}
	require.NoError(t, repos.Libraries.Create(context.Background(), library))
	return library
}

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db, DriverSQLite)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUserRepository_EmailCaseInsensitive(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	user := seedUser(t, repos, "Alice@Example.com")

	found, err := repos.Users.GetByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	dup := &User{Email: "ALICE@example.com", PasswordHash: "y", IsActive: true}
	assert.ErrorIs(t, repos.Users.Create(ctx, dup), ErrConflict)
}

func TestLibraryRepository_CRUD(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	owner := seedUser(t, repos, "owner@example.com")
	library := seedLibrary(t, repos, owner)

	found, err := repos.Libraries.GetByID(ctx, library.ID)
	require.NoError(t, err)
	assert.Equal(t, "docs", found.Name)
	assert.False(t, found.IsPublic)

	found.IsPublic = true
	require.NoError(t, repos.Libraries.Update(ctx, found))

	found, err = repos.Libraries.GetByID(ctx, library.ID)
	require.NoError(t, err)
	assert.True(t, found.IsPublic)

	require.NoError(t, repos.Libraries.Delete(ctx, library.ID))
	_, err = repos.Libraries.GetByID(ctx, library.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repos.Libraries.Delete(ctx, library.ID), ErrNotFound)
}

func TestLibraryRepository_ListForUser(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	owner := seedUser(t, repos, "owner@example.com")
	other := seedUser(t, repos, "other@example.com")

	owned := &Library{Name: "a-owned", OwnerID: owner.ID}
	require.NoError(t, repos.Libraries.Create(ctx, owned))
	granted := &Library{Name: "b-granted", OwnerID: other.ID}
	require.NoError(t, repos.Libraries.Create(ctx, granted))
	public := &Library{Name: "c-public", OwnerID: other.ID, IsPublic: true}
	require.NoError(t, repos.Libraries.Create(ctx, public))
	private := &Library{Name: "d-private", OwnerID: other.ID}
	require.NoError(t, repos.Libraries.Create(ctx, private))

	require.NoError(t, repos.Permissions.Upsert(ctx, &LibraryPermission{
		LibraryID: granted.ID, UserID: owner.ID, Kind: PermissionRead, GrantedByUserID: other.ID,
	}))

	visible, err := repos.Libraries.ListForUser(ctx, owner.ID)
	require.NoError(t, err)

	names := make([]string, len(visible))
	for i, l := range visible {
		names[i] = l.Name
	}
	assert.Equal(t, []string{"a-owned", "b-granted", "c-public"}, names)
}

func TestPermissionRepository_UpsertReplaces(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	owner := seedUser(t, repos, "owner@example.com")
	reader := seedUser(t, repos, "reader@example.com")
	library := seedLibrary(t, repos, owner)

	require.NoError(t, repos.Permissions.Upsert(ctx, &LibraryPermission{
		LibraryID: library.ID, UserID: reader.ID, Kind: PermissionRead, GrantedByUserID: owner.ID,
	}))
	require.NoError(t, repos.Permissions.Upsert(ctx, &LibraryPermission{
		LibraryID: library.ID, UserID: reader.ID, Kind: PermissionWrite, GrantedByUserID: owner.ID,
	}))

	perm, err := repos.Permissions.Get(ctx, library.ID, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, PermissionWrite, perm.Kind)

	perms, err := repos.Permissions.ListByLibrary(ctx, library.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 1)

	require.NoError(t, repos.Permissions.Delete(ctx, library.ID, reader.ID))
	_, err = repos.Permissions.Get(ctx, library.ID, reader.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSectionRepository_UniqueIndexPerFile(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	file := &KnowledgeFile{Name: "doc.md", Hash: sha256Bytes("doc"), Status: FileStatusPending}
	require.NoError(t, repos.Files.Add(ctx, file))

	require.NoError(t, repos.Sections.Add(ctx, &KnowledgeFileSection{FileID: file.ID, SectionIndex: 0}))
	err := repos.Sections.Add(ctx, &KnowledgeFileSection{FileID: file.ID, SectionIndex: 0})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestChunkRepository_RoundTripAndPurge(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	file := &KnowledgeFile{Name: "doc.md", Hash: sha256Bytes("doc"), Status: FileStatusIndexing}
	require.NoError(t, repos.Files.Add(ctx, file))

	section := &KnowledgeFileSection{FileID: file.ID, SectionIndex: 0, Summary: "intro"}
	require.NoError(t, repos.Sections.Add(ctx, section))

	chunk := &KnowledgeFileChunk{
		SectionID:  section.ID,
		FileID:     file.ID,
		ChunkIndex: 0,
		Content:    "hello world",
		Embedding:  []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, repos.Chunks.Add(ctx, chunk))

	dup := &KnowledgeFileChunk{SectionID: section.ID, FileID: file.ID, ChunkIndex: 0, Content: "dup"}
	assert.ErrorIs(t, repos.Chunks.Add(ctx, dup), ErrConflict)

	got, err := repos.Chunks.GetByIndex(ctx, section.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, chunk.ID, got.ID)
	assert.Equal(t, "hello world", got.Content)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, got.Embedding, 1e-6)

	bySection, err := repos.Chunks.GetAllBySection(ctx, section.ID)
	require.NoError(t, err)
	require.Len(t, bySection, 1)

	require.NoError(t, repos.Chunks.DeleteByFile(ctx, file.ID))
	require.NoError(t, repos.Sections.DeleteByFile(ctx, file.ID))

	_, err = repos.Chunks.GetByID(ctx, chunk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := repos.Files.Exists(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestChunkRepository_ListEmbeddedByLibrary(t *testing.T) {
	repos := NewRepositories(testDB(t))
	ctx := context.Background()

	owner := seedUser(t, repos, "owner@example.com")
	library := seedLibrary(t, repos, owner)

	libFile := &LibraryFile{
		LibraryID:        library.ID,
		OriginalFileName: "doc.md",
		ContentType:      "text/markdown",
		SizeInBytes:      3,
		RelativePath:     "libraries/x/y/doc.md",
		Hash:             sha256Bytes("doc"),
		UploadedByUserID: owner.ID,
	}
	require.NoError(t, repos.LibraryFiles.Create(ctx, libFile))

	file := &KnowledgeFile{ID: libFile.ID, Name: "doc.md", Hash: libFile.Hash, Status: FileStatusIndexed}
	require.NoError(t, repos.Files.Add(ctx, file))
	section := &KnowledgeFileSection{FileID: file.ID, SectionIndex: 0}
	require.NoError(t, repos.Sections.Add(ctx, section))

	require.NoError(t, repos.Chunks.Add(ctx, &KnowledgeFileChunk{
		SectionID: section.ID, FileID: file.ID, ChunkIndex: 0,
		Content: "embedded", Embedding: []float32{1, 0},
	}))
	require.NoError(t, repos.Chunks.Add(ctx, &KnowledgeFileChunk{
		SectionID: section.ID, FileID: file.ID, ChunkIndex: 1, Content: "bare",
	}))

	embedded, err := repos.Chunks.ListEmbeddedByLibrary(ctx, library.ID)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, "embedded", embedded[0].Content)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	fileID := uuid.New()
	err := InTx(ctx, db, func(repos *Repositories) error {
		if err := repos.Files.Add(ctx, &KnowledgeFile{ID: fileID, Name: "doc", Hash: sha256Bytes("doc")}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	exists, err := NewRepositories(db).Files.Exists(ctx, fileID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func sha256Bytes(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
