// Package storage provides database models and repositories for the knowledge base.
package storage

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
)

// PermissionKind represents a library permission level. Higher values
// strictly dominate lower ones.
type PermissionKind int

const (
	PermissionNone  PermissionKind = 0
	PermissionRead  PermissionKind = 1
	PermissionWrite PermissionKind = 2
	PermissionAdmin PermissionKind = 3
)

// String returns the permission name.
func (k PermissionKind) String() string {
	switch k {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Satisfies reports whether k grants at least the required level.
func (k PermissionKind) Satisfies(required PermissionKind) bool {
	return k >= required
}

// KnowledgeFileStatus tracks the indexing lifecycle of a knowledge file.
type KnowledgeFileStatus int

const (
	FileStatusPending  KnowledgeFileStatus = 0
	FileStatusIndexing KnowledgeFileStatus = 1
	FileStatusIndexed  KnowledgeFileStatus = 2
	FileStatusFailed   KnowledgeFileStatus = 3
)

// String returns the status name.
func (s KnowledgeFileStatus) String() string {
	switch s {
	case FileStatusPending:
		return "pending"
	case FileStatusIndexing:
		return "indexing"
	case FileStatusIndexed:
		return "indexed"
	case FileStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// User represents an authenticated principal.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Library is a namespace for files and permissions. Ownership is immutable.
type Library struct {
	ID          uuid.UUID
	Name        string
	Description string
	OwnerID     uuid.UUID
	IsPublic    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LibraryPermission grants a user an explicit permission on a library.
// At most one row exists per (library, user) pair.
type LibraryPermission struct {
	ID              uuid.UUID
	LibraryID       uuid.UUID
	UserID          uuid.UUID
	Kind            PermissionKind
	GrantedByUserID uuid.UUID
	CreatedAt       time.Time
}

// LibraryFile is the catalog record for an uploaded payload.
type LibraryFile struct {
	ID               uuid.UUID
	LibraryID        uuid.UUID
	OriginalFileName string
	ContentType      string
	SizeInBytes      int64
	RelativePath     string
	Hash             []byte
	UploadedByUserID uuid.UUID
	UploadedAt       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// KnowledgeFile is the indexing record for a library file. It shares the
// library file's ID, so the pairing is one-to-one once indexed.
type KnowledgeFile struct {
	ID          uuid.UUID
	Name        string
	Hash        []byte
	ProcessedAt *time.Time
	Status      KnowledgeFileStatus
}

// KnowledgeFileSection is a semantically coherent span of a file.
type KnowledgeFileSection struct {
	ID                uuid.UUID
	FileID            uuid.UUID
	SectionIndex      int
	Summary           string
	AdditionalContext string
}

// KnowledgeFileChunk is a token-bounded piece of a section. FileID is
// denormalised so purging a file does not need a join.
type KnowledgeFileChunk struct {
	ID         uuid.UUID
	SectionID  uuid.UUID
	FileID     uuid.UUID
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// EncodeEmbedding packs a vector as little-endian float32 bytes for storage.
func EncodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding unpacks little-endian float32 bytes written by EncodeEmbedding.
func DecodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, kberrors.Newf(kberrors.KindIntegrity, "embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
