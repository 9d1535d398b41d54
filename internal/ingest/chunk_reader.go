package ingest

import (
	"io"
	"strings"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/tokenizer"
)

// stopSignals force the accumulator out before a segment containing
// structural markup, so headings, code fences, and emphasised lead-ins
// start fresh chunks.
var stopSignals = []string{"\n# ", "```", "**"}

// Chunk is a token-bounded span of source text.
type Chunk struct {
	Content string
	Tokens  int
}

// ChunkReader packs segments into chunks of at most maxTokens tokens.
// Segments are never split: an oversized segment becomes a single
// oversized chunk.
type ChunkReader struct {
	segments  *SegmentReader
	tokens    tokenizer.Tokenizer
	maxTokens int

	acc       strings.Builder
	accTokens int
	// pending holds a segment that closed the previous chunk and must open
	// the next one.
	pending       string
	pendingTokens int
	done          bool
}

// NewChunkReader creates a chunk reader over a segment stream.
func NewChunkReader(segments *SegmentReader, tokens tokenizer.Tokenizer, maxTokens int) *ChunkReader {
	return &ChunkReader{segments: segments, tokens: tokens, maxTokens: maxTokens}
}

// Next returns the next chunk, or io.EOF after the final one.
func (r *ChunkReader) Next() (Chunk, error) {
	if r.done {
		return Chunk{}, io.EOF
	}

	for {
		segment, tokens, err := r.nextSegment()
		if err == io.EOF {
			r.done = true
			if r.acc.Len() == 0 {
				return Chunk{}, io.EOF
			}
			return r.emit(), nil
		}
		if err != nil {
			return Chunk{}, err
		}

		if r.acc.Len() == 0 && tokens > r.maxTokens {
			// Never split a segment; emit it as one oversized chunk.
			return Chunk{Content: segment, Tokens: tokens}, nil
		}

		if r.acc.Len() > 0 && (hasStopSignal(segment) || r.accTokens+tokens > r.maxTokens) {
			chunk := r.emit()
			r.pending = segment
			r.pendingTokens = tokens
			return chunk, nil
		}

		r.acc.WriteString(segment)
		r.accTokens += tokens
	}
}

func (r *ChunkReader) nextSegment() (string, int, error) {
	if r.pending != "" {
		segment, tokens := r.pending, r.pendingTokens
		r.pending, r.pendingTokens = "", 0
		return segment, tokens, nil
	}

	segment, err := r.segments.Next()
	if err != nil {
		return "", 0, err
	}

	tokens, err := r.tokens.CountTokens(segment)
	if err != nil {
		return "", 0, kberrors.Wrap(kberrors.KindInputInvalid, "count segment tokens", err)
	}
	return segment, tokens, nil
}

func (r *ChunkReader) emit() Chunk {
	chunk := Chunk{Content: r.acc.String(), Tokens: r.accTokens}
	r.acc.Reset()
	r.accTokens = 0
	return chunk
}

func hasStopSignal(segment string) bool {
	// The segment reader splits line-start structure into a fresh segment,
	// so a heading or fence shows up as a prefix rather than mid-segment.
	if startsWithStopSignal(segment) {
		return true
	}
	for _, signal := range stopSignals {
		if strings.Contains(segment, signal) {
			return true
		}
	}
	return false
}
