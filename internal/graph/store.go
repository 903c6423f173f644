package graph

import (
	"context"
	"io"
)

// Store persists CodeGraphs keyed by file path.
// Implementations: KuzuStore (production), MemStore (testing and
// single-run CLI use).
type Store interface {
	io.Closer

	// Schema setup, called once before any graph is stored.
	InitSchema(ctx context.Context) error

	// PutGraph stores g under g.FilePath, replacing any previous graph.
	PutGraph(ctx context.Context, g *CodeGraph) error

	// GetGraph returns the graph stored for path or ErrGraphNotFound.
	GetGraph(ctx context.Context, path string) (*CodeGraph, error)

	// ListGraphs returns every stored path in ascending order.
	ListGraphs(ctx context.Context) ([]string, error)

	// DeleteGraph removes the graph for path. Missing paths are not an error.
	DeleteGraph(ctx context.Context, path string) error

	Stats(ctx context.Context) (*GraphStats, error)
}
