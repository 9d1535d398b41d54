// Package vectorstore keeps an in-memory cosine-similarity index over chunk
// embeddings. It is a derived index: the chunk repository remains the source
// of truth and the index can be rebuilt from it at any time.
package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectormath"
)

// Entry is a chunk vector registered in the index.
type Entry struct {
	ChunkID   uuid.UUID
	SectionID uuid.UUID
	FileID    uuid.UUID
	// vector is stored unit-normalized so search reduces to a dot product.
	vector []float32
}

// Match is a search hit.
type Match struct {
	ChunkID   uuid.UUID
	SectionID uuid.UUID
	FileID    uuid.UUID
	// Similarity is the raw cosine similarity in [-1, 1].
	Similarity float64
}

// ChunkLister supplies embedded chunks for rebuilding the index.
type ChunkLister interface {
	ListEmbeddedByLibrary(ctx context.Context, libraryID uuid.UUID) ([]*storage.KnowledgeFileChunk, error)
}

// Store is an in-memory per-library vector index.
type Store struct {
	mu        sync.RWMutex
	dimension int
	libraries map[uuid.UUID]map[uuid.UUID]*Entry
}

// New creates a vector store for vectors of the given dimension.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		libraries: make(map[uuid.UUID]map[uuid.UUID]*Entry),
	}
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int {
	return s.dimension
}

// Add registers a chunk vector. The vector is normalized on entry; adding an
// existing chunk ID replaces its vector.
func (s *Store) Add(libraryID uuid.UUID, chunk *storage.KnowledgeFileChunk) error {
	if len(chunk.Embedding) != s.dimension {
		return kberrors.Newf(kberrors.KindIntegrity,
			"vector dimension mismatch: got %d, index expects %d", len(chunk.Embedding), s.dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.libraries[libraryID]
	if !ok {
		index = make(map[uuid.UUID]*Entry)
		s.libraries[libraryID] = index
	}
	index[chunk.ID] = &Entry{
		ChunkID:   chunk.ID,
		SectionID: chunk.SectionID,
		FileID:    chunk.FileID,
		vector:    vectormath.Normalize(chunk.Embedding),
	}
	return nil
}

// RemoveFile drops all vectors belonging to a file.
func (s *Store) RemoveFile(libraryID, fileID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.libraries[libraryID]
	if !ok {
		return
	}
	for id, entry := range index {
		if entry.FileID == fileID {
			delete(index, id)
		}
	}
	if len(index) == 0 {
		delete(s.libraries, libraryID)
	}
}

// RemoveLibrary drops the whole library index.
func (s *Store) RemoveLibrary(libraryID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.libraries, libraryID)
}

// Count returns the number of vectors indexed for a library.
func (s *Store) Count(libraryID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.libraries[libraryID])
}

// Search returns up to k matches ordered by descending similarity. Equal
// similarities order by ascending chunk ID so results are deterministic.
func (s *Store) Search(libraryID uuid.UUID, query []float32, k int) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, kberrors.Newf(kberrors.KindIntegrity,
			"query dimension mismatch: got %d, index expects %d", len(query), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	unit := vectormath.Normalize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	index, ok := s.libraries[libraryID]
	if !ok {
		return nil, nil
	}

	matches := make([]Match, 0, len(index))
	for _, entry := range index {
		matches = append(matches, Match{
			ChunkID:    entry.ChunkID,
			SectionID:  entry.SectionID,
			FileID:     entry.FileID,
			Similarity: vectormath.CosineUnit(unit, entry.vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return uuidLess(matches[i].ChunkID, matches[j].ChunkID)
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Rehydrate rebuilds a library's index from persisted chunk embeddings.
func (s *Store) Rehydrate(ctx context.Context, libraryID uuid.UUID, chunks ChunkLister) (int, error) {
	embedded, err := chunks.ListEmbeddedByLibrary(ctx, libraryID)
	if err != nil {
		return 0, kberrors.Wrap(kberrors.KindStorage, "load chunk embeddings", err)
	}

	s.RemoveLibrary(libraryID)
	for _, chunk := range embedded {
		if err := s.Add(libraryID, chunk); err != nil {
			return 0, err
		}
	}
	return len(embedded), nil
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
