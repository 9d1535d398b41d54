package blobfs

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
)

// Mem is an in-memory FS used by tests.
type Mem struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMem creates an empty in-memory blob store.
func NewMem() *Mem {
	return &Mem{blobs: make(map[string][]byte)}
}

func (m *Mem) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[path]
	if !ok {
		return nil, kberrors.Newf(kberrors.KindNotFound, "blob %s not found", path)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (m *Mem) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, kberrors.Wrap(kberrors.KindStorage, "write blob", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = data
	return int64(len(data)), nil
}

func (m *Mem) WriteAt(ctx context.Context, path string, p []byte, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.blobs[path]
	end := offset + int64(len(p))
	if int64(len(data)) < end {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:end], p)
	m.blobs[path] = data
	return nil
}

func (m *Mem) Stat(ctx context.Context, path string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[path]
	if !ok {
		return 0, kberrors.Newf(kberrors.KindNotFound, "blob %s not found", path)
	}
	return int64(len(data)), nil
}

func (m *Mem) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, path)
	return nil
}

func (m *Mem) RemoveAll(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	for key := range m.blobs {
		if key == path || strings.HasPrefix(key, prefix) {
			delete(m.blobs, key)
		}
	}
	return nil
}

func (m *Mem) Rename(ctx context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[oldPath]
	if !ok {
		return kberrors.Newf(kberrors.KindNotFound, "blob %s not found", oldPath)
	}
	m.blobs[newPath] = data
	delete(m.blobs, oldPath)
	return nil
}

var _ FS = (*Mem)(nil)
