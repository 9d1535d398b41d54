// Package blobfs abstracts file payload storage behind a small filesystem port.
package blobfs

import (
	"context"
	"io"
)

// FS is the blob storage port. Paths are forward-slash separated and
// relative to the store root.
type FS interface {
	// Open returns a reader over the blob at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Write stores the full contents of r at path, creating parent
	// directories as needed and replacing any existing blob.
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	// WriteAt writes p at the given byte offset, extending the blob if
	// needed. Used by chunked uploads to assemble out-of-order parts.
	WriteAt(ctx context.Context, path string, p []byte, offset int64) error
	// Stat returns the blob size in bytes.
	Stat(ctx context.Context, path string) (int64, error)
	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(ctx context.Context, path string) error
	// RemoveAll deletes the blob tree rooted at path.
	RemoveAll(ctx context.Context, path string) error
	// Rename moves a blob to a new path, creating parent directories.
	Rename(ctx context.Context, oldPath, newPath string) error
}
