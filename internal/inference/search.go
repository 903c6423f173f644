package inference

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// IndexEntry is one indexed embedding.
type IndexEntry struct {
	Path   string    `json:"path"`
	Vector []float32 `json:"vector"`
}

// Match is one search hit.
type Match struct {
	Path  string  `json:"path"`
	Score float32 `json:"score"`
}

// SimilaritySearch is an in-memory cosine-similarity index over engine
// embeddings. The index is unbounded and not deduplicated: indexing the
// same path twice adds two entries. It is safe for concurrent use.
type SimilaritySearch struct {
	engine *Engine

	mu      sync.RWMutex
	entries []IndexEntry
}

// NewSimilaritySearch returns an empty index backed by engine.
func NewSimilaritySearch(engine *Engine) *SimilaritySearch {
	return &SimilaritySearch{engine: engine}
}

// IndexGraph infers g and appends its embedding.
func (s *SimilaritySearch) IndexGraph(ctx context.Context, g *graph.CodeGraph) error {
	res, err := s.engine.Infer(ctx, g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = append(s.entries, IndexEntry{Path: g.FilePath, Vector: res.Embedding})
	s.mu.Unlock()
	return nil
}

// IndexGraphs indexes graphs in order, stopping at the first failure.
func (s *SimilaritySearch) IndexGraphs(ctx context.Context, graphs []*graph.CodeGraph) error {
	for _, g := range graphs {
		if err := s.IndexGraph(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// Add appends a precomputed embedding.
func (s *SimilaritySearch) Add(path string, vec []float32) error {
	if len(vec) != s.engine.OutputDim() {
		return fmt.Errorf("index %s: %w: vector has %d values, index expects %d",
			path, compress.ErrDimensionMismatch, len(vec), s.engine.OutputDim())
	}
	s.mu.Lock()
	s.entries = append(s.entries, IndexEntry{Path: path, Vector: slices.Clone(vec)})
	s.mu.Unlock()
	return nil
}

// Search infers query and returns the k most similar entries.
func (s *SimilaritySearch) Search(ctx context.Context, query *graph.CodeGraph, k int) ([]Match, error) {
	res, err := s.engine.Infer(ctx, query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	matches := s.SearchVector(res.Embedding, k)
	recordSearchLatency(ctx, time.Since(start), s.Size())
	return matches, nil
}

// SearchVector returns the k entries most similar to vec by cosine
// similarity, best first. Equal scores keep insertion order. A k larger
// than the index returns every entry; k <= 0 returns none.
func (s *SimilaritySearch) SearchVector(vec []float32, k int) []Match {
	if k <= 0 {
		return nil
	}
	s.mu.RLock()
	matches := make([]Match, len(s.entries))
	for i, e := range s.entries {
		matches[i] = Match{Path: e.Path, Score: tensor.CosineSimilarity(vec, e.Vector)}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// Size returns the number of indexed entries.
func (s *SimilaritySearch) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the index in insertion order.
func (s *SimilaritySearch) Entries() []IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IndexEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = IndexEntry{Path: e.Path, Vector: slices.Clone(e.Vector)}
	}
	return out
}

// Clear empties the index.
func (s *SimilaritySearch) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
