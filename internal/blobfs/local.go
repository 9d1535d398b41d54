package blobfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
)

// Local stores blobs under a base directory on the local filesystem.
type Local struct {
	base string
}

// NewLocal creates a local blob store rooted at base.
func NewLocal(base string) (*Local, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &Local{base: abs}, nil
}

// resolve maps a store-relative path to an absolute path, rejecting
// traversal outside the base directory.
func (l *Local) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", kberrors.Newf(kberrors.KindInputInvalid, "invalid blob path %q", path)
	}
	return filepath.Join(l.base, clean), nil
}

func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, kberrors.Newf(kberrors.KindNotFound, "blob %s not found", path)
	}
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindStorage, "open blob", err)
	}
	return f, nil
}

func (l *Local) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	full, err := l.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, kberrors.Wrap(kberrors.KindStorage, "create blob directory", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return 0, kberrors.Wrap(kberrors.KindStorage, "create blob", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, kberrors.Wrap(kberrors.KindStorage, "write blob", err)
	}
	if err := f.Close(); err != nil {
		return n, kberrors.Wrap(kberrors.KindStorage, "close blob", err)
	}
	return n, nil
}

func (l *Local) WriteAt(ctx context.Context, path string, p []byte, offset int64) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "create blob directory", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "open blob for writing", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(p, offset); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "write blob at offset", err)
	}
	return nil
}

func (l *Local) Stat(ctx context.Context, path string) (int64, error) {
	full, err := l.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return 0, kberrors.Newf(kberrors.KindNotFound, "blob %s not found", path)
	}
	if err != nil {
		return 0, kberrors.Wrap(kberrors.KindStorage, "stat blob", err)
	}
	return info.Size(), nil
}

func (l *Local) Remove(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return kberrors.Wrap(kberrors.KindStorage, "remove blob", err)
	}
	return nil
}

func (l *Local) RemoveAll(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "remove blob tree", err)
	}
	return nil
}

func (l *Local) Rename(ctx context.Context, oldPath, newPath string) error {
	oldFull, err := l.resolve(oldPath)
	if err != nil {
		return err
	}
	newFull, err := l.resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0755); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "create blob directory", err)
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return kberrors.Wrap(kberrors.KindStorage, "rename blob", err)
	}
	return nil
}

var _ FS = (*Local)(nil)
