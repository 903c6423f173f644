// Package inference serves embeddings from a compressor with at-most-once
// computation per distinct input, plus similarity search, streaming and
// batch helpers built on top of the engine.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// KeyStrategy selects what identifies a graph in the cache.
type KeyStrategy string

const (
	// KeyByContent keys by the graph fingerprint, so an edited file misses
	// and identical content under two paths shares one entry.
	KeyByContent KeyStrategy = "content"
	// KeyByPath keys by file path. An edited file keeps hitting the stale
	// entry until the cache is cleared.
	KeyByPath KeyStrategy = "path"
)

// Config controls caching and batching.
type Config struct {
	UseCache  bool        `json:"use_cache" yaml:"useCache"`
	KeyBy     KeyStrategy `json:"key_by" yaml:"keyBy"`
	BatchSize int         `json:"batch_size" yaml:"batchSize"`
	// Workers bounds InferParallel. Zero means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultConfig caches by content with batches of 16.
func DefaultConfig() Config {
	return Config{UseCache: true, KeyBy: KeyByContent, BatchSize: 16}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.KeyBy {
	case KeyByContent, KeyByPath, "":
	default:
		return fmt.Errorf("unknown cache key strategy %q", c.KeyBy)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Result is one inference outcome. The vector is a copy owned by the
// caller.
type Result struct {
	ID         string             `json:"id"`
	FilePath   string             `json:"file_path"`
	Key        string             `json:"key,omitempty"`
	Embedding  []float32          `json:"embedding"`
	Metadata   *compress.Metadata `json:"metadata,omitempty"`
	Degenerate bool               `json:"degenerate,omitempty"`
	Cached     bool               `json:"cached"`
	Duration   time.Duration      `json:"duration_ns"`
}

// EmbeddingStore is a persistent warm tier consulted on a cache miss
// before the model runs. Implementations must be safe for concurrent use.
type EmbeddingStore interface {
	Load(ctx context.Context, key string) (*compress.ProjectEmbedding, bool, error)
	Save(ctx context.Context, key string, e *compress.ProjectEmbedding) error
}

// Stats are cumulative engine counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computes  int64 `json:"computes"`
	StoreHits int64 `json:"store_hits"`
	Errors    int64 `json:"errors"`
	Entries   int   `json:"entries"`
	Floats    int   `json:"floats"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore adds a persistent warm tier.
func WithStore(s EmbeddingStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine caches compressor output. It is safe for concurrent use:
// concurrent calls for the same key share one computation, and an entry is
// committed only after the computation succeeds.
type Engine struct {
	compressor *compress.Compressor
	cfg        Config
	store      EmbeddingStore
	logger     *slog.Logger
	modelID    string

	mu     sync.RWMutex
	cache  map[string]*compress.ProjectEmbedding
	byPath map[string]string
	refs   map[string]int
	flight singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	computes  atomic.Int64
	storeHits atomic.Int64
	errs      atomic.Int64
}

// NewEngine returns an Engine over c. It panics on an invalid config.
func NewEngine(c *compress.Compressor, cfg Config, opts ...Option) *Engine {
	if err := cfg.Validate(); err != nil {
		panic("inference: " + err.Error())
	}
	if cfg.KeyBy == "" {
		cfg.KeyBy = KeyByContent
	}
	e := &Engine{
		compressor: c,
		cfg:        cfg,
		modelID:    c.Model().Fingerprint(),
		cache:      make(map[string]*compress.ProjectEmbedding),
		byPath:     make(map[string]string),
		refs:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Compressor returns the wrapped compressor.
func (e *Engine) Compressor() *compress.Compressor { return e.compressor }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// ModelID is the fingerprint of the model behind the engine.
func (e *Engine) ModelID() string { return e.modelID }

// OutputDim is the length of every embedding.
func (e *Engine) OutputDim() int { return e.compressor.OutputDim() }

// Infer returns the embedding of g, from the cache when possible.
func (e *Engine) Infer(ctx context.Context, g *graph.CodeGraph) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("infer: %w", compress.ErrNilGraph)
	}
	ctx, span := startSpan(ctx, "Infer", g.FilePath)
	defer span.End()
	start := time.Now()

	res, err := e.infer(ctx, g)
	if err != nil {
		e.errs.Add(1)
		recordError(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("inference.cached", res.Cached))
	recordInferLatency(ctx, res.Duration, res.Cached)
	return res, nil
}

func (e *Engine) infer(ctx context.Context, g *graph.CodeGraph) (*Result, error) {
	if !e.cfg.UseCache {
		emb, err := e.compute(ctx, g)
		if err != nil {
			return nil, err
		}
		return newResult(g, "", emb, false), nil
	}

	key := e.key(g)
	if emb, ok := e.lookup(key); ok {
		e.link(key, g.FilePath)
		e.hits.Add(1)
		recordCacheHit(ctx)
		return newResult(g, key, emb, true), nil
	}
	e.misses.Add(1)
	recordCacheMiss(ctx)

	// The shared computation outlives any single waiter, so it runs
	// detached from the caller's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(key, func() (any, error) {
		if emb, ok := e.lookup(key); ok {
			return emb, nil
		}
		if emb, ok := e.loadStored(detached, key); ok {
			e.commit(key, g.FilePath, emb)
			return emb, nil
		}
		emb, err := e.compute(detached, g)
		if err != nil {
			return nil, err
		}
		e.commit(key, g.FilePath, emb)
		e.saveStored(detached, key, emb)
		return emb, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		emb := r.Val.(*compress.ProjectEmbedding)
		if r.Shared {
			// The computing caller may have had a different path for the
			// same content.
			e.link(key, g.FilePath)
		}
		return newResult(g, key, emb, false), nil
	}
}

func (e *Engine) compute(ctx context.Context, g *graph.CodeGraph) (*compress.ProjectEmbedding, error) {
	emb, err := e.compressor.Compress(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("infer %s: %w", g.FilePath, err)
	}
	e.computes.Add(1)
	recordCompute(ctx)
	return emb, nil
}

func (e *Engine) key(g *graph.CodeGraph) string {
	if e.cfg.KeyBy == KeyByPath {
		return "path:" + g.FilePath
	}
	return "content:" + g.Fingerprint()
}

func (e *Engine) lookup(key string) (*compress.ProjectEmbedding, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	emb, ok := e.cache[key]
	return emb, ok
}

// commit stores emb under key and points path at it.
func (e *Engine) commit(key, path string, emb *compress.ProjectEmbedding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = emb
	e.relink(key, path)
}

// link points path at an existing entry.
func (e *Engine) link(key, path string) {
	e.mu.RLock()
	cur, ok := e.byPath[path]
	e.mu.RUnlock()
	if ok && cur == key {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, live := e.cache[key]; live {
		e.relink(key, path)
	}
}

// relink moves path to key. An entry that path pointed at before is
// dropped once no path refers to it. e.mu must be held.
func (e *Engine) relink(key, path string) {
	old, had := e.byPath[path]
	if had && old == key {
		return
	}
	e.byPath[path] = key
	e.refs[key]++
	if !had {
		return
	}
	e.refs[old]--
	if e.refs[old] <= 0 {
		delete(e.refs, old)
		delete(e.cache, old)
		e.logger.Debug("dropped superseded embedding", slog.String("path", path), slog.String("key", old))
	}
}

func (e *Engine) storeKey(key string) string {
	return e.modelID + "/" + key
}

func (e *Engine) loadStored(ctx context.Context, key string) (*compress.ProjectEmbedding, bool) {
	if e.store == nil {
		return nil, false
	}
	emb, ok, err := e.store.Load(ctx, e.storeKey(key))
	if err != nil {
		e.logger.Warn("embedding store load failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok || len(emb.Vector) != e.OutputDim() {
		return nil, false
	}
	e.storeHits.Add(1)
	recordStoreHit(ctx)
	return emb, true
}

func (e *Engine) saveStored(ctx context.Context, key string, emb *compress.ProjectEmbedding) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, e.storeKey(key), emb); err != nil {
		e.logger.Warn("embedding store save failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func newResult(g *graph.CodeGraph, key string, emb *compress.ProjectEmbedding, cached bool) *Result {
	var meta *compress.Metadata
	if emb.Metadata != nil {
		m := *emb.Metadata
		m.FilePath = g.FilePath
		meta = &m
	}
	return &Result{
		ID:         uuid.NewString(),
		FilePath:   g.FilePath,
		Key:        key,
		Embedding:  slices.Clone(emb.Vector),
		Metadata:   meta,
		Degenerate: emb.Degenerate,
		Cached:     cached,
	}
}

// InferBatch infers every graph in order. The first failure fails the
// whole batch; entries computed before it stay cached.
func (e *Engine) InferBatch(ctx context.Context, graphs []*graph.CodeGraph) ([]*Result, error) {
	out := make([]*Result, 0, len(graphs))
	for i, g := range graphs {
		res, err := e.Infer(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// InferCodebase infers every graph through the cache and averages the
// results into one codebase embedding.
func (e *Engine) InferCodebase(ctx context.Context, graphs []*graph.CodeGraph) (*compress.ProjectEmbedding, error) {
	results, err := e.InferBatch(ctx, graphs)
	if err != nil {
		return nil, err
	}
	return e.Codebase(results)
}

// Codebase averages inferred file embeddings into a codebase embedding.
func (e *Engine) Codebase(results []*Result) (*compress.ProjectEmbedding, error) {
	parts := make([]*compress.ProjectEmbedding, len(results))
	for i, r := range results {
		parts[i] = &compress.ProjectEmbedding{Vector: r.Embedding, Metadata: r.Metadata, Degenerate: r.Degenerate}
	}
	return e.compressor.Combine(parts)
}

// ItemResult is one element of a lenient batch.
type ItemResult struct {
	Result *Result
	Err    error
}

// InferEach infers every graph in order and reports each outcome
// separately, so one failure does not hide the other results.
func (e *Engine) InferEach(ctx context.Context, graphs []*graph.CodeGraph) []ItemResult {
	out := make([]ItemResult, len(graphs))
	for i, g := range graphs {
		out[i].Result, out[i].Err = e.Infer(ctx, g)
	}
	return out
}

// InferParallel infers graphs on a bounded worker pool. Results keep the
// input order. The first failure cancels the remaining work and is
// returned.
func (e *Engine) InferParallel(ctx context.Context, graphs []*graph.CodeGraph) ([]*Result, error) {
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(graphs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cg := range graphs {
		g.Go(func() error {
			res, err := e.Infer(gctx, cg)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// NodeEmbeddings returns the pre-pooling node embeddings of g. They are
// not cached.
func (e *Engine) NodeEmbeddings(ctx context.Context, g *graph.CodeGraph) (*tensor.Tensor, error) {
	return e.compressor.NodeEmbeddings(ctx, g)
}

// Cached returns the cached embedding for g without computing it.
func (e *Engine) Cached(g *graph.CodeGraph) (*compress.ProjectEmbedding, bool) {
	if g == nil || !e.cfg.UseCache {
		return nil, false
	}
	return e.lookup(e.key(g))
}

// ClearCache drops every in-memory entry. The persistent store, if any, is
// left alone.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.cache)
	clear(e.byPath)
	clear(e.refs)
}

// CacheStats returns the number of cached entries and the total number of
// floats they hold.
func (e *Engine) CacheStats() (entries, floats int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, emb := range e.cache {
		floats += len(emb.Vector)
	}
	return len(e.cache), floats
}

// Stats returns the cumulative counters and current cache size.
func (e *Engine) Stats() Stats {
	entries, floats := e.CacheStats()
	return Stats{
		Hits:      e.hits.Load(),
		Misses:    e.misses.Load(),
		Computes:  e.computes.Load(),
		StoreHits: e.storeHits.Load(),
		Errors:    e.errs.Load(),
		Entries:   entries,
		Floats:    floats,
	}
}
