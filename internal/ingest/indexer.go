package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/blobfs"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/hashing"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

// Outcome reports what an indexing run did.
type Outcome int

const (
	OutcomeIndexed Outcome = iota
	OutcomeUpToDate
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == OutcomeUpToDate {
		return "up_to_date"
	}
	return "indexed"
}

// FileSource identifies the blob an indexing run consumes.
type FileSource struct {
	FileID    uuid.UUID
	LibraryID uuid.UUID
	Name      string
	BlobPath  string
}

// IndexerConfig tunes the indexing pipeline.
type IndexerConfig struct {
	MaxTokensPerChunk int
	Sections          SectionReaderConfig
}

// Indexer drives the segment, chunk, and section readers over a source blob
// and persists the result. Indexing is idempotent by content hash and
// rebuilds a file from scratch on any change: no partial updates.
type Indexer struct {
	db       *sql.DB
	fs       blobfs.FS
	vectors  *vectorstore.Store
	embedder embedding.Embedder
	tokens   tokenizer.Tokenizer
	cfg      IndexerConfig
	log      *observability.Logger

	mu     sync.Mutex
	active map[uuid.UUID]bool
}

// NewIndexer creates an indexer.
func NewIndexer(
	db *sql.DB,
	fs blobfs.FS,
	vectors *vectorstore.Store,
	embedder embedding.Embedder,
	tokens tokenizer.Tokenizer,
	cfg IndexerConfig,
	log *observability.Logger,
) *Indexer {
	return &Indexer{
		db:       db,
		fs:       fs,
		vectors:  vectors,
		embedder: embedder,
		tokens:   tokens,
		cfg:      cfg,
		log:      log,
		active:   make(map[uuid.UUID]bool),
	}
}

// Index processes a source blob. Returns OutcomeUpToDate when the stored
// hash already matches, OutcomeIndexed after a successful rebuild, and a
// Conflict error when another run holds the file's lock.
func (ix *Indexer) Index(ctx context.Context, source FileSource) (Outcome, error) {
	if !ix.tryLock(source.FileID) {
		return 0, kberrors.Newf(kberrors.KindConflict, "indexing already in progress for file %s", source.FileID)
	}
	defer ix.unlock(source.FileID)

	log := ix.log.WithFile(source.FileID.String())
	started := time.Now()

	hash, err := ix.hashBlob(ctx, source.BlobPath)
	if err != nil {
		return 0, err
	}

	repos := storage.NewRepositories(ix.db)
	existing, err := repos.Files.GetByID(ctx, source.FileID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, kberrors.Wrap(kberrors.KindStorage, "load knowledge file", err)
	}
	if existing != nil && existing.Status == storage.FileStatusIndexed && bytes.Equal(existing.Hash, hash) {
		log.Debug().Msg("content hash unchanged, skipping re-index")
		return OutcomeUpToDate, nil
	}

	if err := ix.purgeAndMark(ctx, source, existing, hash); err != nil {
		return 0, err
	}

	sections, err := ix.buildSections(ctx, source)
	if err != nil {
		ix.rollback(ctx, source)
		return 0, err
	}

	if err := ix.finalize(ctx, source.FileID); err != nil {
		ix.rollback(ctx, source)
		return 0, err
	}

	log.Info().
		Int("sections", sections).
		Dur("elapsed", time.Since(started)).
		Msg("file indexed")
	return OutcomeIndexed, nil
}

// DeleteFile removes a file's sections, chunks, record, and vectors.
func (ix *Indexer) DeleteFile(ctx context.Context, libraryID, fileID uuid.UUID) error {
	err := storage.InTx(ctx, ix.db, func(repos *storage.Repositories) error {
		if err := repos.Chunks.DeleteByFile(ctx, fileID); err != nil {
			return err
		}
		if err := repos.Sections.DeleteByFile(ctx, fileID); err != nil {
			return err
		}
		return repos.Files.Delete(ctx, fileID)
	})
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "delete indexed file", err)
	}
	// Vectors go after the rows commit; a crash in between leaves dangling
	// vectors, which search drops when the chunk load misses.
	ix.vectors.RemoveFile(libraryID, fileID)
	return nil
}

func (ix *Indexer) hashBlob(ctx context.Context, path string) ([]byte, error) {
	rc, err := ix.fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	hash, err := hashing.SumReader(rc)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "hash source blob", err)
	}
	return hash, nil
}

// purgeAndMark clears prior sections and chunks and marks the file Indexing
// in one transaction, then drops the file's vectors.
func (ix *Indexer) purgeAndMark(ctx context.Context, source FileSource, existing *storage.KnowledgeFile, hash []byte) error {
	err := storage.InTx(ctx, ix.db, func(repos *storage.Repositories) error {
		if err := repos.Chunks.DeleteByFile(ctx, source.FileID); err != nil {
			return err
		}
		if err := repos.Sections.DeleteByFile(ctx, source.FileID); err != nil {
			return err
		}
		file := &storage.KnowledgeFile{
			ID:     source.FileID,
			Name:   source.Name,
			Hash:   hash,
			Status: storage.FileStatusIndexing,
		}
		if existing == nil {
			return repos.Files.Add(ctx, file)
		}
		return repos.Files.Update(ctx, file)
	})
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "purge previous index state", err)
	}
	ix.vectors.RemoveFile(source.LibraryID, source.FileID)
	return nil
}

// buildSections streams the blob through the reader pipeline, persisting one
// transaction per section, and returns the number of sections written.
func (ix *Indexer) buildSections(ctx context.Context, source FileSource) (int, error) {
	rc, err := ix.fs.Open(ctx, source.BlobPath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	reader := NewSectionReader(
		NewChunkReader(NewSegmentReader(rc), ix.tokens, ix.cfg.MaxTokensPerChunk),
		ix.embedder,
		ix.cfg.Sections,
	)

	sectionIndex := 0
	for {
		if err := ctx.Err(); err != nil {
			return sectionIndex, kberrors.Wrap(kberrors.KindCancelled, "indexing aborted", err)
		}

		chunks, err := reader.Next(ctx)
		if err == io.EOF {
			return sectionIndex, nil
		}
		if err != nil {
			return sectionIndex, err
		}

		if err := ix.persistSection(ctx, source, sectionIndex, chunks); err != nil {
			return sectionIndex, err
		}
		sectionIndex++
	}
}

func (ix *Indexer) persistSection(ctx context.Context, source FileSource, index int, chunks []EmbeddedChunk) error {
	section := &storage.KnowledgeFileSection{
		ID:           uuid.New(),
		FileID:       source.FileID,
		SectionIndex: index,
	}
	rows := make([]*storage.KnowledgeFileChunk, len(chunks))
	for i, chunk := range chunks {
		rows[i] = &storage.KnowledgeFileChunk{
			ID:         uuid.New(),
			SectionID:  section.ID,
			FileID:     source.FileID,
			ChunkIndex: i,
			Content:    chunk.Content,
			Embedding:  chunk.Embedding,
		}
	}

	err := storage.InTx(ctx, ix.db, func(repos *storage.Repositories) error {
		if err := repos.Sections.Add(ctx, section); err != nil {
			return err
		}
		for _, row := range rows {
			if err := repos.Chunks.Add(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "persist section", err)
	}

	// Vector registration follows the commit so the chunk store stays the
	// source of truth.
	for _, row := range rows {
		if err := ix.vectors.Add(source.LibraryID, row); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) finalize(ctx context.Context, fileID uuid.UUID) error {
	now := time.Now()
	err := storage.InTx(ctx, ix.db, func(repos *storage.Repositories) error {
		file, err := repos.Files.GetByID(ctx, fileID)
		if err != nil {
			return err
		}
		file.Status = storage.FileStatusIndexed
		file.ProcessedAt = &now
		return repos.Files.Update(ctx, file)
	})
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "finalize knowledge file", err)
	}
	return nil
}

// rollback returns the file to a clean Failed state with no partial
// sections, chunks, or vectors visible.
func (ix *Indexer) rollback(ctx context.Context, source FileSource) {
	log := ix.log.WithFile(source.FileID.String())

	// The triggering context may already be cancelled; cleanup still runs.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := storage.InTx(ctx, ix.db, func(repos *storage.Repositories) error {
		if err := repos.Chunks.DeleteByFile(ctx, source.FileID); err != nil {
			return err
		}
		if err := repos.Sections.DeleteByFile(ctx, source.FileID); err != nil {
			return err
		}
		file, err := repos.Files.GetByID(ctx, source.FileID)
		if err != nil {
			return err
		}
		file.Status = storage.FileStatusFailed
		return repos.Files.Update(ctx, file)
	})
	if err != nil {
		log.Error().Err(err).Msg("rollback after failed indexing did not complete")
	}
	ix.vectors.RemoveFile(source.LibraryID, source.FileID)
}

func (ix *Indexer) tryLock(fileID uuid.UUID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.active[fileID] {
		return false
	}
	ix.active[fileID] = true
	return true
}

func (ix *Indexer) unlock(fileID uuid.UUID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	delete(ix.active, fileID)
}
