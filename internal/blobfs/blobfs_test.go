package blobfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
)

func stores(t *testing.T) map[string]FS {
	t.Helper()
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return map[string]FS{
		"local": local,
		"mem":   NewMem(),
	}
}

func TestFS_WriteOpenRoundTrip(t *testing.T) {
	for name, fs := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := fs.Write(ctx, "libraries/lib1/file1/doc.md", strings.NewReader("hello world"))
			require.NoError(t, err)
			assert.Equal(t, int64(11), n)

			rc, err := fs.Open(ctx, "libraries/lib1/file1/doc.md")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "hello world", string(data))

			size, err := fs.Stat(ctx, "libraries/lib1/file1/doc.md")
			require.NoError(t, err)
			assert.Equal(t, int64(11), size)
		})
	}
}

func TestFS_OpenMissingIsNotFound(t *testing.T) {
	for name, fs := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := fs.Open(context.Background(), "nope/missing.md")
			require.Error(t, err)
			assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
		})
	}
}

func TestFS_WriteAtOutOfOrder(t *testing.T) {
	for name, fs := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, fs.WriteAt(ctx, "staging/s1", []byte("world"), 6))
			require.NoError(t, fs.WriteAt(ctx, "staging/s1", []byte("hello "), 0))

			rc, err := fs.Open(ctx, "staging/s1")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "hello world", string(data))
		})
	}
}

func TestFS_RemoveIsIdempotent(t *testing.T) {
	for name, fs := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := fs.Write(ctx, "a/b", strings.NewReader("x"))
			require.NoError(t, err)
			require.NoError(t, fs.Remove(ctx, "a/b"))
			require.NoError(t, fs.Remove(ctx, "a/b"))

			_, err = fs.Stat(ctx, "a/b")
			assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
		})
	}
}

func TestFS_RemoveAll(t *testing.T) {
	for name, fs := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := fs.Write(ctx, "libraries/lib1/f1/a.md", strings.NewReader("a"))
			require.NoError(t, err)
			_, err = fs.Write(ctx, "libraries/lib1/f2/b.md", strings.NewReader("b"))
			require.NoError(t, err)
			_, err = fs.Write(ctx, "libraries/lib2/f1/c.md", strings.NewReader("c"))
			require.NoError(t, err)

			require.NoError(t, fs.RemoveAll(ctx, "libraries/lib1"))

			_, err = fs.Stat(ctx, "libraries/lib1/f1/a.md")
			assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))
			_, err = fs.Stat(ctx, "libraries/lib2/f1/c.md")
			assert.NoError(t, err)
		})
	}
}

func TestFS_Rename(t *testing.T) {
	for name, fs := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := fs.Write(ctx, "staging/tmp1", strings.NewReader("payload"))
			require.NoError(t, err)
			require.NoError(t, fs.Rename(ctx, "staging/tmp1", "libraries/lib1/f1/doc.md"))

			_, err = fs.Stat(ctx, "staging/tmp1")
			assert.True(t, kberrors.IsKind(err, kberrors.KindNotFound))

			size, err := fs.Stat(ctx, "libraries/lib1/f1/doc.md")
			require.NoError(t, err)
			assert.Equal(t, int64(7), size)
		})
	}
}

func TestLocal_RejectsTraversal(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = local.Open(context.Background(), "../escape")
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))

	_, err = local.Stat(context.Background(), "/etc/passwd")
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindInputInvalid))
}
