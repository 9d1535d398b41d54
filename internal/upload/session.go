// Package upload coordinates chunked file uploads: sessions live in an
// ephemeral keyed cache, chunk payloads assemble in a temp blob, and
// completion finalises the file and indexes it.
package upload

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Session tracks one in-flight chunked upload.
type Session struct {
	SessionID        uuid.UUID `json:"session_id"`
	LibraryID        uuid.UUID `json:"library_id"`
	OriginalFileName string    `json:"original_file_name"`
	ContentType      string    `json:"content_type"`
	TotalSize        int64     `json:"total_size"`
	ChunkSize        int64     `json:"chunk_size"`
	UploadedByUserID uuid.UUID `json:"uploaded_by_user_id"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	TempBlobPath     string    `json:"temp_blob_path"`
	UploadedChunks   []int     `json:"uploaded_chunks"`
}

// TotalChunks returns ceil(TotalSize / ChunkSize).
func (s *Session) TotalChunks() int {
	return int((s.TotalSize + s.ChunkSize - 1) / s.ChunkSize)
}

// HasChunk reports whether a chunk number was already uploaded.
func (s *Session) HasChunk(number int) bool {
	for _, n := range s.UploadedChunks {
		if n == number {
			return true
		}
	}
	return false
}

// MarkChunk records a chunk number, keeping the set sorted.
func (s *Session) MarkChunk(number int) {
	if s.HasChunk(number) {
		return
	}
	s.UploadedChunks = append(s.UploadedChunks, number)
	sort.Ints(s.UploadedChunks)
}

// IsComplete reports whether every chunk in [0, TotalChunks) was uploaded.
func (s *Session) IsComplete() bool {
	return len(s.UploadedChunks) == s.TotalChunks()
}

func (s *Session) marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal upload session: %w", err)
	}
	return data, nil
}

func unmarshalSession(data []byte) (*Session, error) {
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal upload session: %w", err)
	}
	return &session, nil
}
