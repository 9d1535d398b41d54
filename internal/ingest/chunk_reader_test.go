package ingest

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
)

func readAllChunks(t *testing.T, input string, maxTokens int) []Chunk {
	t.Helper()
	reader := NewChunkReader(NewSegmentReader(strings.NewReader(input)), tokenizer.NewHeuristic(), maxTokens)

	var chunks []Chunk
	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestChunkReader_PacksSegmentsUpToBudget(t *testing.T) {
	input := "one two three. four five six. seven eight nine."
	chunks := readAllChunks(t, input, 8)

	require.NotEmpty(t, chunks)
	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(chunk.Content)
		assert.Positive(t, chunk.Tokens)
	}
	assert.Equal(t, input, rebuilt.String())
	assert.Greater(t, len(chunks), 1)
}

func TestChunkReader_OversizedSegmentIsSingleChunk(t *testing.T) {
	// One long sentence with no break markers cannot be split.
	input := strings.Repeat("word ", 50)
	input = strings.TrimSuffix(input, " ")
	chunks := readAllChunks(t, input, 5)

	require.Len(t, chunks, 1)
	assert.Equal(t, input, chunks[0].Content)
	assert.Greater(t, chunks[0].Tokens, 5)
}

func TestChunkReader_StopSignalForcesBoundary(t *testing.T) {
	input := "short intro. more text\n# Big Heading\nbody follows"
	chunks := readAllChunks(t, input, 1000)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.NotContains(t, chunks[0].Content, "# Big Heading")
}

func TestChunkReader_EmptyInput(t *testing.T) {
	chunks := readAllChunks(t, "", 10)
	assert.Empty(t, chunks)
}

func TestChunkReader_TokenizerFailureSurfaces(t *testing.T) {
	reader := NewChunkReader(
		NewSegmentReader(strings.NewReader("some text. more")),
		&tokenizer.Fixed{Err: assert.AnError},
		10,
	)

	_, err := reader.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
