package graph

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemStore is an in-memory Store. Graphs are copied on the way in and on
// the way out, so callers may keep mutating their own copies.
type MemStore struct {
	mu     sync.RWMutex
	graphs map[string]*CodeGraph
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{graphs: make(map[string]*CodeGraph)}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error { return nil }

func (m *MemStore) PutGraph(_ context.Context, g *CodeGraph) error {
	if g == nil {
		return fmt.Errorf("put graph: nil graph")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[g.FilePath] = g.Clone()
	return nil
}

func (m *MemStore) GetGraph(_ context.Context, path string) (*CodeGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, path)
	}
	return g.Clone(), nil
}

func (m *MemStore) ListGraphs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.graphs))
	for p := range m.graphs {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths, nil
}

func (m *MemStore) DeleteGraph(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.graphs, path)
	return nil
}

func (m *MemStore) Stats(_ context.Context) (*GraphStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &GraphStats{GraphCount: len(m.graphs), Languages: make(map[string]int)}
	for _, g := range m.graphs {
		stats.NodeCount += g.NodeCount()
		stats.EdgeCount += g.EdgeCount()
		if g.Language != "" {
			stats.Languages[string(g.Language)]++
		}
	}
	return stats, nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }
