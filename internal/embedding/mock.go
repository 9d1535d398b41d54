package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectormath"
)

// MockClient is a deterministic bag-of-words embedder for tests and local
// development. Texts that share vocabulary land close together in cosine
// space, texts with disjoint vocabulary do not.
type MockClient struct {
	dimension int
	FailWith  error // when set, Embed returns this error
}

// NewMockClient creates a mock embedder with the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 64
	}
	return &MockClient{dimension: dimension}
}

// Embed maps each text to a unit vector by hashing its lowercased word stems
// into dimension buckets.
func (c *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.FailWith != nil {
		return nil, c.FailWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = c.embedText(text)
	}
	return embeddings, nil
}

// EmbedSingle embeds one text.
func (c *MockClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-bag-of-words"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

func (c *MockClient) embedText(text string) []float32 {
	v := make([]float32, c.dimension)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, word := range words {
		// Crude stemming keeps "sleeping"/"sleep" adjacent.
		word = strings.TrimSuffix(word, "ing")
		word = strings.TrimSuffix(word, "s")
		if word == "" {
			continue
		}

		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum32()

		v[int(sum)%c.dimension] += 1.0
		// Second bucket softens hash collisions between unrelated words.
		v[int(sum>>16)%c.dimension] += 0.5
	}

	if vectormath.Norm(v) == 0 {
		v[0] = 1
	}
	return vectormath.Normalize(v)
}

var _ Embedder = (*MockClient)(nil)
