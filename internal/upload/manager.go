package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/authz"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/cache"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/config"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/hashing"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/ingest"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
)

const sessionKeyPrefix = "upload:session:"

// ManagerConfig bounds upload sessions.
type ManagerConfig struct {
	MaxFileSize int64
	SessionTTL  time.Duration
}

// Manager runs the chunked upload state machine.
type Manager struct {
	cache   cache.Client
	fs      blobfs.FS
	db      *sql.DB
	auth    *authz.Authorizer
	indexer *ingest.Indexer
	cfg     ManagerConfig
	log     *observability.Logger

	// sessionMu serialises read-modify-write cycles on session records.
	sessionMu sync.Mutex

	// temp blob paths by session, kept so the janitor can purge blobs whose
	// cache entry already expired.
	tempMu sync.Mutex
	temp   map[uuid.UUID]tempBlob
}

type tempBlob struct {
	path      string
	expiresAt time.Time
}

// NewManager creates an upload session manager.
func NewManager(
	cacheClient cache.Client,
	fs blobfs.FS,
	db *sql.DB,
	auth *authz.Authorizer,
	indexer *ingest.Indexer,
	cfg ManagerConfig,
	log *observability.Logger,
) *Manager {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Manager{
		cache:   cacheClient,
		fs:      fs,
		db:      db,
		auth:    auth,
		indexer: indexer,
		cfg:     cfg,
		log:     log,
		temp:    make(map[uuid.UUID]tempBlob),
	}
}

// Initiate opens a new upload session after validating size bounds and
// Write access to the target library.
func (m *Manager) Initiate(ctx context.Context, libraryID uuid.UUID, filename, contentType string, totalSize, chunkSize int64, userID uuid.UUID) (*Session, error) {
	if err := m.auth.ValidateAccess(ctx, userID, libraryID, storage.PermissionWrite, "upload files to this library"); err != nil {
		return nil, err
	}

	if filename == "" {
		return nil, kberrors.New(kberrors.KindInputInvalid, "filename must not be empty")
	}
	if totalSize <= 0 || totalSize > m.cfg.MaxFileSize {
		return nil, kberrors.Newf(kberrors.KindInputInvalid,
			"total size %d outside allowed range [1, %d]", totalSize, m.cfg.MaxFileSize)
	}
	maxChunk := int64(config.MaxChunkSize)
	if totalSize < maxChunk {
		maxChunk = totalSize
	}
	if chunkSize < 1 || chunkSize > maxChunk {
		return nil, kberrors.Newf(kberrors.KindInputInvalid,
			"chunk size %d outside allowed range [1, %d]", chunkSize, maxChunk)
	}

	now := time.Now()
	session := &Session{
		SessionID:        uuid.New(),
		LibraryID:        libraryID,
		OriginalFileName: filename,
		ContentType:      contentType,
		TotalSize:        totalSize,
		ChunkSize:        chunkSize,
		UploadedByUserID: userID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.cfg.SessionTTL),
	}
	session.TempBlobPath = path.Join("libraries", libraryID.String(), ".uploads", session.SessionID.String())

	if err := m.saveSession(ctx, session); err != nil {
		return nil, err
	}

	m.tempMu.Lock()
	m.temp[session.SessionID] = tempBlob{path: session.TempBlobPath, expiresAt: session.ExpiresAt}
	m.tempMu.Unlock()

	m.log.WithLibrary(libraryID.String()).Info().
		Str("session_id", session.SessionID.String()).
		Int64("total_size", totalSize).
		Int("total_chunks", session.TotalChunks()).
		Msg("upload session opened")
	return session, nil
}

// UploadChunk writes one chunk's payload at its offset. Duplicate chunk
// numbers fail with Conflict; the session stays valid either way.
func (m *Manager) UploadChunk(ctx context.Context, sessionID uuid.UUID, chunkNumber int, r io.Reader) error {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if chunkNumber < 0 || chunkNumber >= session.TotalChunks() {
		return kberrors.Newf(kberrors.KindInputInvalid,
			"chunk number %d outside range [0, %d)", chunkNumber, session.TotalChunks())
	}

	// A cache claim serialises concurrent uploads of the same number; the
	// loser sees the claim and reports the duplicate.
	claimKey := cache.Key("upload", "claim", sessionID.String(), strconv.Itoa(chunkNumber))
	claimed, err := m.cache.SetNX(ctx, claimKey, []byte("1"), time.Until(session.ExpiresAt))
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "claim chunk", err)
	}
	if !claimed || session.HasChunk(chunkNumber) {
		return kberrors.Newf(kberrors.KindConflict, "chunk %d already uploaded", chunkNumber)
	}

	expected := session.ChunkSize
	if chunkNumber == session.TotalChunks()-1 {
		expected = session.TotalSize - int64(chunkNumber)*session.ChunkSize
	}

	payload, err := io.ReadAll(io.LimitReader(r, expected+1))
	if err != nil {
		m.releaseClaim(ctx, claimKey)
		return kberrors.Wrap(kberrors.KindStorage, "read chunk payload", err)
	}
	if int64(len(payload)) > expected {
		m.releaseClaim(ctx, claimKey)
		return kberrors.Newf(kberrors.KindInputInvalid,
			"chunk %d exceeds expected size %d", chunkNumber, expected)
	}

	offset := int64(chunkNumber) * session.ChunkSize
	if err := m.fs.WriteAt(ctx, session.TempBlobPath, payload, offset); err != nil {
		m.releaseClaim(ctx, claimKey)
		return err
	}

	return m.mutateSession(ctx, sessionID, func(s *Session) {
		s.MarkChunk(chunkNumber)
	})
}

// Complete verifies the assembled blob, registers the library file, moves
// the blob to its final path, and indexes it inline. Any failure after
// finalisation purges the final blob.
func (m *Manager) Complete(ctx context.Context, sessionID uuid.UUID) (*storage.LibraryFile, error) {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.IsComplete() {
		return nil, kberrors.Newf(kberrors.KindInputInvalid,
			"upload incomplete: %d of %d chunks present", len(session.UploadedChunks), session.TotalChunks())
	}

	size, err := m.fs.Stat(ctx, session.TempBlobPath)
	if err != nil {
		return nil, err
	}
	if size != session.TotalSize {
		m.purgeSession(ctx, session)
		return nil, kberrors.Newf(kberrors.KindIntegrity,
			"assembled blob is %d bytes, expected %d", size, session.TotalSize)
	}

	hash, err := m.hashBlob(ctx, session.TempBlobPath)
	if err != nil {
		m.purgeSession(ctx, session)
		return nil, err
	}

	file := &storage.LibraryFile{
		ID:               uuid.New(),
		LibraryID:        session.LibraryID,
		OriginalFileName: session.OriginalFileName,
		ContentType:      session.ContentType,
		SizeInBytes:      session.TotalSize,
		Hash:             hash,
		UploadedByUserID: session.UploadedByUserID,
		UploadedAt:       time.Now(),
	}
	file.RelativePath = path.Join("libraries", session.LibraryID.String(), file.ID.String(), session.OriginalFileName)

	if err := storage.NewRepositories(m.db).LibraryFiles.Create(ctx, file); err != nil {
		m.purgeSession(ctx, session)
		return nil, kberrors.Wrap(kberrors.KindStorage, "register library file", err)
	}

	if err := m.fs.Rename(ctx, session.TempBlobPath, file.RelativePath); err != nil {
		m.rollbackFinalise(ctx, file)
		return nil, err
	}

	if _, err := m.indexer.Index(ctx, ingest.FileSource{
		FileID:    file.ID,
		LibraryID: file.LibraryID,
		Name:      file.OriginalFileName,
		BlobPath:  file.RelativePath,
	}); err != nil {
		m.rollbackFinalise(ctx, file)
		return nil, fmt.Errorf("index uploaded file: %w", err)
	}

	m.dropSession(ctx, session)
	m.log.WithLibrary(file.LibraryID.String()).WithFile(file.ID.String()).Info().
		Str("name", file.OriginalFileName).
		Int64("size", file.SizeInBytes).
		Msg("chunked upload finalised")
	return file, nil
}

// Cancel purges the temp blob and drops the session.
func (m *Manager) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	m.purgeSession(ctx, session)
	return nil
}

// GetStatus returns a snapshot of the session, or NotFound once expired.
func (m *Manager) GetStatus(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return m.loadSession(ctx, sessionID)
}

// RunJanitor purges expired sessions' temp blobs until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpired(ctx)
		}
	}
}

func (m *Manager) sweepExpired(ctx context.Context) {
	now := time.Now()

	m.tempMu.Lock()
	var expired []tempBlob
	for id, blob := range m.temp {
		if now.After(blob.expiresAt) {
			expired = append(expired, blob)
			delete(m.temp, id)
		}
	}
	m.tempMu.Unlock()

	for _, blob := range expired {
		if err := m.fs.Remove(ctx, blob.path); err != nil {
			m.log.Warn().Err(err).Str("path", blob.path).Msg("janitor failed to remove expired upload blob")
		}
	}
	if len(expired) > 0 {
		m.log.Info().Int("sessions", len(expired)).Msg("janitor purged expired upload sessions")
	}
}

func (m *Manager) loadSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	data, err := m.cache.Get(ctx, sessionKeyPrefix+sessionID.String())
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, kberrors.Newf(kberrors.KindNotFound, "upload session %s not found", sessionID)
	}
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "load upload session", err)
	}
	return unmarshalSession(data)
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := session.marshal()
	if err != nil {
		return err
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return kberrors.Newf(kberrors.KindNotFound, "upload session %s expired", session.SessionID)
	}
	if err := m.cache.Set(ctx, sessionKeyPrefix+session.SessionID.String(), data, ttl); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "save upload session", err)
	}
	return nil
}

// mutateSession applies fn to the freshest session record under a lock so
// concurrent chunk uploads do not lose each other's progress.
func (m *Manager) mutateSession(ctx context.Context, sessionID uuid.UUID, fn func(*Session)) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	fn(session)
	return m.saveSession(ctx, session)
}

func (m *Manager) releaseClaim(ctx context.Context, claimKey string) {
	if err := m.cache.Delete(ctx, claimKey); err != nil {
		m.log.Warn().Err(err).Str("key", claimKey).Msg("failed to release chunk claim")
	}
}

func (m *Manager) hashBlob(ctx context.Context, blobPath string) ([]byte, error) {
	rc, err := m.fs.Open(ctx, blobPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	hash, err := hashing.SumReader(rc)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "hash uploaded blob", err)
	}
	return hash, nil
}

// purgeSession removes the temp blob and all session state.
func (m *Manager) purgeSession(ctx context.Context, session *Session) {
	if err := m.fs.Remove(ctx, session.TempBlobPath); err != nil {
		m.log.Warn().Err(err).Str("path", session.TempBlobPath).Msg("failed to remove upload blob")
	}
	m.dropSession(ctx, session)
}

// dropSession removes session state but leaves blobs alone.
func (m *Manager) dropSession(ctx context.Context, session *Session) {
	key := sessionKeyPrefix + session.SessionID.String()
	if err := m.cache.Delete(ctx, key); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("failed to drop upload session")
	}
	if err := m.cache.DeleteByPrefix(ctx, cache.Key("upload", "claim", session.SessionID.String())); err != nil {
		m.log.Warn().Err(err).Msg("failed to drop chunk claims")
	}

	m.tempMu.Lock()
	delete(m.temp, session.SessionID)
	m.tempMu.Unlock()
}

// rollbackFinalise purges the final blob and the catalog row after a
// failure during completion.
func (m *Manager) rollbackFinalise(ctx context.Context, file *storage.LibraryFile) {
	ctx = context.WithoutCancel(ctx)
	if err := m.fs.RemoveAll(ctx, path.Dir(file.RelativePath)); err != nil {
		m.log.Warn().Err(err).Str("path", file.RelativePath).Msg("failed to purge finalised blob")
	}
	if err := storage.NewRepositories(m.db).LibraryFiles.Delete(ctx, file.LibraryID, file.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.log.Warn().Err(err).Msg("failed to remove library file row during rollback")
	}
}
