// Package search ranks knowledge sections against a query by combining
// chunk-level cosine similarity into section-level relevance metrics.
package search

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/embedding"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/observability"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/storage"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectormath"
	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/vectorstore"
)

// Context string delimiters consumed by downstream prompting.
const (
	SectionStartMarker = "--- START OF NEW CONTEXT SECTION ---"
	ResultEndMarker    = "--- END OF CONTEXT SEARCH RESULT ---"
)

// Composite relevance weights.
const (
	weightMaxSim   = 0.55
	weightMeanTopK = 0.35
	weightCoverage = 0.10
	topKPerSection = 3
)

// Metrics are the section relevance measurements for one result entry.
type Metrics struct {
	MaxSim          float64 `json:"max_sim"`
	MeanTopK        float64 `json:"mean_top_k"`
	Coverage        float64 `json:"coverage"`
	Composite       float64 `json:"composite"`
	NormalizedScore float64 `json:"normalized_score"`
	RelevanceScore  int     `json:"relevance_score"`
}

// Entry is a ranked section with its chunks and metrics.
type Entry struct {
	Section *storage.KnowledgeFileSection `json:"section"`
	Chunks  []*storage.KnowledgeFileChunk `json:"chunks"`
	Metrics Metrics                       `json:"metrics"`
}

// Result is the outcome of one search. Failures are carried in-band so the
// caller never sees partial sections.
type Result struct {
	Success   bool    `json:"success"`
	Retryable bool    `json:"retryable"`
	Error     string  `json:"error,omitempty"`
	Entries   []Entry `json:"entries"`
	Context   string  `json:"context"`
}

// Config bounds search fan-out.
type Config struct {
	DefaultTopK int
	MaxTopK     int
}

// Searcher executes relevance-ranked section retrieval.
type Searcher struct {
	embedder embedding.Embedder
	vectors  *vectorstore.Store
	repos    *storage.Repositories
	cfg      Config
	log      *observability.Logger
}

// New creates a searcher.
func New(embedder embedding.Embedder, vectors *vectorstore.Store, repos *storage.Repositories, cfg Config, log *observability.Logger) *Searcher {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 50
	}
	return &Searcher{embedder: embedder, vectors: vectors, repos: repos, cfg: cfg, log: log}
}

// Search embeds the query, retrieves the top-k chunk matches, and returns
// sections ranked by composite relevance.
func (s *Searcher) Search(ctx context.Context, libraryID uuid.UUID, query string, k int) *Result {
	if strings.TrimSpace(query) == "" {
		return failure(kberrors.New(kberrors.KindInputInvalid, "query must not be empty"))
	}
	k = s.clampK(k)

	queryVec, err := s.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return failure(err)
	}

	matches, err := s.vectors.Search(libraryID, queryVec, k)
	if err != nil {
		return failure(err)
	}
	if len(matches) == 0 {
		return &Result{Success: true, Context: ResultEndMarker}
	}

	entries, err := s.buildEntries(ctx, matches)
	if err != nil {
		return failure(err)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Metrics.Composite != b.Metrics.Composite {
			return a.Metrics.Composite > b.Metrics.Composite
		}
		if a.Metrics.NormalizedScore != b.Metrics.NormalizedScore {
			return a.Metrics.NormalizedScore > b.Metrics.NormalizedScore
		}
		if cmp := bytes.Compare(a.Section.FileID[:], b.Section.FileID[:]); cmp != 0 {
			return cmp < 0
		}
		return a.Section.SectionIndex < b.Section.SectionIndex
	})

	return &Result{
		Success: true,
		Entries: entries,
		Context: renderContext(entries),
	}
}

func (s *Searcher) clampK(k int) int {
	if k <= 0 {
		return s.cfg.DefaultTopK
	}
	if k > s.cfg.MaxTopK {
		return s.cfg.MaxTopK
	}
	return k
}

// buildEntries groups matches by section, loads each full section, and
// computes its metrics. Matches whose section or chunks vanished (dangling
// vectors after a crash) are skipped.
func (s *Searcher) buildEntries(ctx context.Context, matches []vectorstore.Match) ([]Entry, error) {
	bySection := make(map[uuid.UUID][]float64)
	order := make([]uuid.UUID, 0, len(matches))
	var allHits []float64

	for _, match := range matches {
		sim := vectormath.Clamp(match.Similarity, 0, 1)
		if _, seen := bySection[match.SectionID]; !seen {
			order = append(order, match.SectionID)
		}
		bySection[match.SectionID] = append(bySection[match.SectionID], sim)
		allHits = append(allHits, sim)
	}

	muG := vectormath.Mean(allHits)
	sigmaG := math.Max(vectormath.StdDev(allHits), 1e-12)

	entries := make([]Entry, 0, len(order))
	for _, sectionID := range order {
		section, err := s.repos.Sections.GetByID(ctx, sectionID)
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Str("section_id", sectionID.String()).Msg("dropping vector hit for missing section")
			continue
		}
		if err != nil {
			return nil, kberrors.Wrap(kberrors.KindStorage, "load section", err)
		}

		chunks, err := s.repos.Chunks.GetAllBySection(ctx, sectionID)
		if err != nil {
			return nil, kberrors.Wrap(kberrors.KindStorage, "load section chunks", err)
		}
		if len(chunks) == 0 {
			continue
		}

		entries = append(entries, Entry{
			Section: section,
			Chunks:  chunks,
			Metrics: computeMetrics(bySection[sectionID], len(chunks), muG, sigmaG),
		})
	}
	return entries, nil
}

func computeMetrics(hits []float64, totalChunks int, muG, sigmaG float64) Metrics {
	sorted := append([]float64(nil), hits...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	maxSim := sorted[0]

	topN := topKPerSection
	if len(sorted) < topN {
		topN = len(sorted)
	}
	meanTopK := vectormath.Mean(sorted[:topN])

	var sum float64
	for _, h := range hits {
		sum += h
	}
	coverage := math.Sqrt(sum / float64(totalChunks))

	var zSum float64
	for _, h := range hits {
		zSum += (h - muG) / sigmaG
	}
	meanZ := zSum / float64(len(hits))

	composite := weightMaxSim*maxSim + weightMeanTopK*meanTopK + weightCoverage*coverage

	return Metrics{
		MaxSim:          maxSim,
		MeanTopK:        meanTopK,
		Coverage:        coverage,
		Composite:       composite,
		NormalizedScore: 100 * vectormath.Sigmoid(meanZ),
		RelevanceScore:  int(math.Round(100 * composite)),
	}
}

// renderContext concatenates ranked sections between fixed delimiters so a
// consuming model can be prompted deterministically.
func renderContext(entries []Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(SectionStartMarker)
		b.WriteString("\n")
		for _, chunk := range entry.Chunks {
			b.WriteString(chunk.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString(ResultEndMarker)
	return b.String()
}

func failure(err error) *Result {
	return &Result{
		Success:   false,
		Retryable: kberrors.KindOf(err).Retryable(),
		Error:     err.Error(),
	}
}
