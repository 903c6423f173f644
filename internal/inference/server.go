package inference

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dusk-indust/codegnn/internal/graph"
)

// ServerStats describes a ModelServer.
type ServerStats struct {
	ModelVersion string        `json:"model_version"`
	RequestCount int64         `json:"request_count"`
	CacheEntries int           `json:"cache_entries"`
	CacheSize    int           `json:"cache_size"`
	Engine       Stats         `json:"engine"`
	Uptime       time.Duration `json:"uptime_ns"`
}

// ModelServer counts requests against an engine for serving front ends.
type ModelServer struct {
	engine   *Engine
	version  string
	started  time.Time
	requests atomic.Int64
}

// NewModelServer wraps engine. An empty version uses the model
// fingerprint.
func NewModelServer(engine *Engine, version string) *ModelServer {
	if version == "" {
		version = engine.ModelID()
	}
	return &ModelServer{engine: engine, version: version, started: time.Now()}
}

// Engine returns the wrapped engine.
func (s *ModelServer) Engine() *Engine { return s.engine }

// Version is the served model version.
func (s *ModelServer) Version() string { return s.version }

// HandleRequest counts one request and infers g.
func (s *ModelServer) HandleRequest(ctx context.Context, g *graph.CodeGraph) (*Result, error) {
	s.requests.Add(1)
	return s.engine.Infer(ctx, g)
}

// HandleBatch counts one request and infers graphs with InferBatch
// semantics.
func (s *ModelServer) HandleBatch(ctx context.Context, graphs []*graph.CodeGraph) ([]*Result, error) {
	s.requests.Add(1)
	return s.engine.InferBatch(ctx, graphs)
}

// CountRequest records a request served outside HandleRequest.
func (s *ModelServer) CountRequest() { s.requests.Add(1) }

// Stats returns the request count and cache occupancy.
func (s *ModelServer) Stats() ServerStats {
	entries, floats := s.engine.CacheStats()
	return ServerStats{
		ModelVersion: s.version,
		RequestCount: s.requests.Load(),
		CacheEntries: entries,
		CacheSize:    floats,
		Engine:       s.engine.Stats(),
		Uptime:       time.Since(s.started),
	}
}

// ResetStats zeroes the request count and clears the engine cache.
func (s *ModelServer) ResetStats() {
	s.requests.Store(0)
	s.engine.ClearCache()
}
