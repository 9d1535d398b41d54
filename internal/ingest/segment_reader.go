// Package ingest implements the document indexing pipeline: a source blob is
// split into segments, packed into token-bounded chunks, grouped into
// semantically coherent sections, and persisted with embeddings.
package ingest

import (
	"fmt"
	"io"
	"strings"
)

// breakMarker is a substring that ends a segment. boundary is how many bytes
// of the marker belong to the emitted segment; the rest starts the next one.
type breakMarker struct {
	text     string
	boundary int
}

// markdownMarkers is the default break marker preset, ordered by priority at
// equal positions. Line-start structure (headings, bullets, fences) begins a
// new segment; sentence terminators and blank lines close the current one.
var markdownMarkers = []breakMarker{
	{text: "\n###### ", boundary: 1},
	{text: "\n##### ", boundary: 1},
	{text: "\n#### ", boundary: 1},
	{text: "\n### ", boundary: 1},
	{text: "\n## ", boundary: 1},
	{text: "\n# ", boundary: 1},
	{text: "\n\n", boundary: 2},
	{text: "\n- ", boundary: 1},
	{text: "\n* ", boundary: 1},
	{text: "\n```", boundary: 1},
	{text: "  \n", boundary: 3},
	{text: ". ", boundary: 2},
	{text: "? ", boundary: 2},
	{text: "! ", boundary: 2},
}

const segmentReadSize = 4096

// SegmentReader pulls text from a stream and yields a lazy, finite,
// non-restartable sequence of segments. Segments preserve original
// whitespace, so concatenating them reproduces the input.
type SegmentReader struct {
	src     io.Reader
	markers []breakMarker
	// longest marker length; matches closer than this to the buffer tail
	// may straddle unread input and are deferred until more data arrives.
	maxMarker int
	buf       []byte
	eof       bool
}

// NewSegmentReader creates a segment reader with the markdown marker preset.
func NewSegmentReader(src io.Reader) *SegmentReader {
	max := 0
	for _, m := range markdownMarkers {
		if len(m.text) > max {
			max = len(m.text)
		}
	}
	return &SegmentReader{src: src, markers: markdownMarkers, maxMarker: max}
}

// Next returns the next segment, or io.EOF after the final one.
func (r *SegmentReader) Next() (string, error) {
	for {
		if boundary, ok := r.findBoundary(); ok {
			segment := string(r.buf[:boundary])
			r.buf = r.buf[boundary:]
			return segment, nil
		}

		if r.eof {
			if len(r.buf) == 0 {
				return "", io.EOF
			}
			segment := string(r.buf)
			r.buf = nil
			return segment, nil
		}

		if err := r.fill(); err != nil {
			return "", err
		}
	}
}

// findBoundary locates the earliest safe marker boundary in the buffer.
func (r *SegmentReader) findBoundary() (int, bool) {
	haystack := string(r.buf)

	// Until EOF, ignore the tail where a longer marker could still complete.
	limit := len(haystack)
	if !r.eof {
		limit -= r.maxMarker - 1
		if limit <= 0 {
			return 0, false
		}
	}

	best := -1
	boundary := 0
	for _, m := range r.markers {
		p := strings.Index(haystack, m.text)
		if p < 0 || p >= limit {
			continue
		}
		if best == -1 || p < best {
			best = p
			boundary = p + m.boundary
		}
	}
	if best < 0 {
		return 0, false
	}
	// A boundary of zero would emit an empty segment and loop forever.
	if boundary == 0 {
		boundary = 1
	}
	return boundary, true
}

func (r *SegmentReader) fill() error {
	block := make([]byte, segmentReadSize)
	n, err := r.src.Read(block)
	if n > 0 {
		r.buf = append(r.buf, block[:n]...)
	}
	if err == io.EOF {
		r.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	return nil
}
