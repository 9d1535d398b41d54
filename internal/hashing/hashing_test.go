package hashing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumReader_EmptyStream(t *testing.T) {
	digest, err := SumReader(strings.NewReader(""))
	require.NoError(t, err)

	// SHA-256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ToHex(digest))
}

func TestSumReader_MatchesSumBytes(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	fromReader, err := SumReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, SumBytes(data), fromReader)
}

func TestHexRoundTrip(t *testing.T) {
	digest := SumBytes([]byte("round trip"))
	decoded, err := FromHex(ToHex(digest))
	require.NoError(t, err)
	assert.Equal(t, digest, decoded)
	assert.Len(t, digest, Size)
}

func TestFromHex_Invalid(t *testing.T) {
	_, err := FromHex("not hex!")
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := SumBytes([]byte("a"))
	b := SumBytes([]byte("b"))
	assert.True(t, Equal(a, a))
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(a, a[:16]))
}
