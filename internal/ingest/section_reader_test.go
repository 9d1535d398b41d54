package ingest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
)

// scriptedEmbedder gives every text a vector based on its topic word, so
// split points are fully predictable.
type scriptedEmbedder struct{}

func (scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		switch {
		case strings.Contains(text, "beta"):
			vectors[i] = []float32{0, 1, 0}
		default:
			vectors[i] = []float32{1, 0, 0}
		}
	}
	return vectors, nil
}

func (scriptedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := scriptedEmbedder{}.Embed(ctx, []string{text})
	return vectors[0], err
}

func (scriptedEmbedder) Model() string  { return "scripted" }
func (scriptedEmbedder) Dimension() int { return 3 }

func sectionConfig() SectionReaderConfig {
	return SectionReaderConfig{
		MaxTokensPerSection:        1000,
		MinTokensPerSection:        0,
		MinChunksPerSection:        2,
		LookaheadBufferSize:        16,
		StdDevMultiplier:           1.0,
		MinimumSimilarityThreshold: 0.65,
		TokenStrictnessThreshold:   0.75,
	}
}

func readAllSections(t *testing.T, input string, cfg SectionReaderConfig) [][]EmbeddedChunk {
	t.Helper()
	reader := NewSectionReader(
		// maxTokens 1 makes every segment its own chunk.
		NewChunkReader(NewSegmentReader(strings.NewReader(input)), tokenizer.NewHeuristic(), 1),
		scriptedEmbedder{},
		cfg,
	)

	var sections [][]EmbeddedChunk
	for {
		section, err := reader.Next(context.Background())
		if err == io.EOF {
			return sections
		}
		require.NoError(t, err)
		sections = append(sections, section)
	}
}

func TestSectionReader_EmptyStreamYieldsZeroSections(t *testing.T) {
	sections := readAllSections(t, "", sectionConfig())
	assert.Empty(t, sections)
}

func TestSectionReader_SplitsOnTopicShift(t *testing.T) {
	input := "alpha one. alpha two. alpha three. beta one. beta two. beta three."
	sections := readAllSections(t, input, sectionConfig())

	require.Len(t, sections, 2)
	for _, chunk := range sections[0] {
		assert.Contains(t, chunk.Content, "alpha")
	}
	for _, chunk := range sections[1] {
		assert.Contains(t, chunk.Content, "beta")
	}
}

func TestSectionReader_MinChunksGuardPreventsTinySections(t *testing.T) {
	// A single leading topic chunk may not split off on its own.
	input := "alpha one. beta one. beta two. beta three."
	sections := readAllSections(t, input, sectionConfig())

	require.NotEmpty(t, sections)
	assert.GreaterOrEqual(t, len(sections[0]), 2)
}

func TestSectionReader_TokenBudgetForcesSplit(t *testing.T) {
	cfg := sectionConfig()
	cfg.MaxTokensPerSection = 6
	cfg.MinChunksPerSection = 1

	input := "alpha one. alpha two. alpha three. alpha four. alpha five. alpha six."
	sections := readAllSections(t, input, cfg)

	assert.Greater(t, len(sections), 1)
	for _, section := range sections {
		assert.NotEmpty(t, section)
	}
}

func TestSectionReader_ChunksCarryUnitEmbeddings(t *testing.T) {
	sections := readAllSections(t, "alpha one. alpha two.", sectionConfig())

	require.Len(t, sections, 1)
	for _, chunk := range sections[0] {
		require.Len(t, chunk.Embedding, 3)
	}
}

func TestSectionReader_DocumentOrderPreserved(t *testing.T) {
	input := "alpha one. alpha two. beta one. beta two."
	sections := readAllSections(t, input, sectionConfig())

	var rebuilt strings.Builder
	for _, section := range sections {
		for _, chunk := range section {
			rebuilt.WriteString(chunk.Content)
		}
	}
	assert.Equal(t, input, rebuilt.String())
}
