package ingest

import (
	"context"
	"io"
	"strings"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectormath"
)

// EmbeddedChunk is a chunk paired with its unit-normalised embedding.
type EmbeddedChunk struct {
	Content   string
	Tokens    int
	Embedding []float32
}

// SectionReaderConfig tunes the adaptive section splitting.
type SectionReaderConfig struct {
	MaxTokensPerSection        int
	MinTokensPerSection        int
	MinChunksPerSection        int
	LookaheadBufferSize        int
	StdDevMultiplier           float64
	MinimumSimilarityThreshold float64
	TokenStrictnessThreshold   float64
}

// SectionReader groups chunks into sections using embedding similarity
// statistics over a lookahead buffer. A split happens where adjacent chunk
// similarity drops below an adaptive threshold, where a stop signal opens
// the next chunk, or where the token budget runs out.
type SectionReader struct {
	chunks   *ChunkReader
	embedder embedding.Embedder
	cfg      SectionReaderConfig

	lookahead []EmbeddedChunk
	srcDone   bool

	section       []EmbeddedChunk
	sectionTokens int
}

// NewSectionReader creates a section reader over a chunk stream.
func NewSectionReader(chunks *ChunkReader, embedder embedding.Embedder, cfg SectionReaderConfig) *SectionReader {
	if cfg.LookaheadBufferSize <= 0 {
		cfg.LookaheadBufferSize = 128
	}
	return &SectionReader{chunks: chunks, embedder: embedder, cfg: cfg}
}

// Next returns the next section as a batch of embedded chunks, in document
// order, or io.EOF after the last one. An empty stream yields zero sections.
func (r *SectionReader) Next(ctx context.Context) ([]EmbeddedChunk, error) {
	for {
		if err := r.refill(ctx); err != nil {
			return nil, err
		}

		if len(r.lookahead) == 0 {
			// Drained. Emit whatever section is in flight.
			if len(r.section) == 0 {
				return nil, io.EOF
			}
			section := r.section
			r.section = nil
			r.sectionTokens = 0
			return section, nil
		}

		next := r.lookahead[0]

		if len(r.section) == 0 {
			r.append(next)
			continue
		}

		if r.shouldSplit(next) {
			section := r.section
			r.section = nil
			r.sectionTokens = 0
			return section, nil
		}

		r.append(next)
	}
}

func (r *SectionReader) append(chunk EmbeddedChunk) {
	r.section = append(r.section, chunk)
	r.sectionTokens += chunk.Tokens
	r.lookahead = r.lookahead[1:]
}

// shouldSplit decides the boundary between the section's last chunk and next.
func (r *SectionReader) shouldSplit(next EmbeddedChunk) bool {
	if len(r.section) < r.cfg.MinChunksPerSection || r.sectionTokens < r.cfg.MinTokensPerSection {
		return false
	}

	fill := float64(r.sectionTokens) / float64(r.cfg.MaxTokensPerSection)
	if fill >= 1 {
		return true
	}
	if startsWithStopSignal(next.Content) {
		return true
	}

	threshold := r.adaptiveThreshold()
	if strictness := r.cfg.TokenStrictnessThreshold; fill >= strictness && strictness < 1 {
		// Quadratic ramp towards a guaranteed split as the budget fills.
		ramp := (fill - strictness) / (1 - strictness)
		threshold += (1 - threshold) * ramp * ramp
	}

	last := r.section[len(r.section)-1]
	return vectormath.CosineUnit(last.Embedding, next.Embedding) < threshold
}

// adaptiveThreshold derives the split threshold from the similarity
// statistics of adjacent pairs across the current boundary and lookahead.
func (r *SectionReader) adaptiveThreshold() float64 {
	seq := make([]EmbeddedChunk, 0, len(r.lookahead)+1)
	seq = append(seq, r.section[len(r.section)-1])
	seq = append(seq, r.lookahead...)

	sims := make([]float64, 0, len(seq)-1)
	for j := 0; j+1 < len(seq); j++ {
		sims = append(sims, vectormath.CosineUnit(seq[j].Embedding, seq[j+1].Embedding))
	}
	if len(sims) == 0 {
		return r.cfg.MinimumSimilarityThreshold
	}

	mu := vectormath.Mean(sims)
	sigma := vectormath.StdDev(sims)
	threshold := mu - r.cfg.StdDevMultiplier*sigma
	if threshold < r.cfg.MinimumSimilarityThreshold {
		threshold = r.cfg.MinimumSimilarityThreshold
	}
	return threshold
}

// refill tops up the lookahead buffer, embedding new chunks in one batch.
func (r *SectionReader) refill(ctx context.Context) error {
	if r.srcDone || len(r.lookahead) >= r.cfg.LookaheadBufferSize {
		return nil
	}

	var fresh []Chunk
	for len(r.lookahead)+len(fresh) < r.cfg.LookaheadBufferSize {
		chunk, err := r.chunks.Next()
		if err == io.EOF {
			r.srcDone = true
			break
		}
		if err != nil {
			return err
		}
		fresh = append(fresh, chunk)
	}
	if len(fresh) == 0 {
		return nil
	}

	texts := make([]string, len(fresh))
	for i, chunk := range fresh {
		texts[i] = chunk.Content
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		if kberrors.KindOf(err) != kberrors.KindUnknown {
			return err
		}
		return kberrors.Wrap(kberrors.KindEmbedding, "embed lookahead chunks", err)
	}
	if len(vectors) != len(fresh) {
		return kberrors.Newf(kberrors.KindIntegrity,
			"embedder returned %d vectors for %d chunks", len(vectors), len(fresh))
	}

	for i, chunk := range fresh {
		r.lookahead = append(r.lookahead, EmbeddedChunk{
			Content:   chunk.Content,
			Tokens:    chunk.Tokens,
			Embedding: vectormath.Normalize(vectors[i]),
		})
	}
	return nil
}

func startsWithStopSignal(content string) bool {
	trimmed := strings.TrimLeft(content, " \t\n\r")
	for _, signal := range []string{"#", "```", "**"} {
		if strings.HasPrefix(trimmed, signal) {
			return true
		}
	}
	return false
}
