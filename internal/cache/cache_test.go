package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_SetGet(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_TTLExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryClientWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(30 * time.Second)
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(31 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_SetNX(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "claim", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "claim", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := c.Get(ctx, "claim")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), val)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:a:1", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "session:a:2", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "session:b:1", []byte("3"), 0))

	require.NoError(t, c.DeleteByPrefix(ctx, "session:a:"))

	_, err := c.Get(ctx, "session:a:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "session:b:1")
	assert.NoError(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "upload:abc:chunk:3", Key("upload", "abc", "chunk", "3"))
}
