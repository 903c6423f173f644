package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/features"
	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testCompressor(t *testing.T) *compress.Compressor {
	t.Helper()
	fcfg := features.DefaultConfig()
	fcfg.Dim = 24
	fcfg.NameHashBuckets = 4
	model := gnn.NewSAGE(gnn.Config{
		InputDim:            24,
		HiddenDims:          []int{16},
		OutputDim:           8,
		NumHeads:            1,
		UseAttentionPooling: true,
	}, tensor.NewRand(42))
	c, err := compress.New(model, features.New(fcfg), compress.DefaultConfig())
	require.NoError(t, err)
	return c
}

func testEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	return NewEngine(testCompressor(t), cfg, opts...)
}

// chainGraph returns n nodes linked in a chain. Graphs with different n
// have different content.
func chainGraph(path string, n int) *graph.CodeGraph {
	g := graph.NewCodeGraph(path, graph.LangGo)
	for i := range n {
		g.AddNode(graph.CodeNode{
			ElementType: graph.ElementFunction,
			Name:        fmt.Sprintf("fn%d", i),
			StartLine:   i*4 + 1,
			EndLine:     i*4 + 3,
			Complexity:  1 + i%3,
		})
		if i > 0 {
			g.AddEdge(i-1, i, graph.EdgeKindCalls, 1)
		}
	}
	return g
}

// memStore is an EmbeddingStore backed by a map.
type memStore struct {
	mu    sync.Mutex
	data  map[string]*compress.ProjectEmbedding
	saves int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*compress.ProjectEmbedding)}
}

func (s *memStore) Load(_ context.Context, key string) (*compress.ProjectEmbedding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	return e, ok, nil
}

func (s *memStore) Save(_ context.Context, key string, e *compress.ProjectEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
	s.saves++
	return nil
}

// ---------------------------------------------------------------------------
// Cache behaviour
// ---------------------------------------------------------------------------

func TestEngine_CacheHitAndClear(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	ctx := context.Background()
	g := chainGraph("a.go", 4)

	first, err := e.Infer(ctx, g)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Embedding, 8)
	assert.NotEmpty(t, first.ID)
	entries, floats := e.CacheStats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 8, floats)

	second, err := e.Infer(ctx, g)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Embedding, second.Embedding)
	assert.NotEqual(t, first.ID, second.ID)
	entries, _ = e.CacheStats()
	assert.Equal(t, 1, entries)

	e.ClearCache()
	entries, floats = e.CacheStats()
	assert.Zero(t, entries)
	assert.Zero(t, floats)

	third, err := e.Infer(ctx, g)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	entries, _ = e.CacheStats()
	assert.Equal(t, 1, entries)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(2), stats.Computes)
}

func TestEngine_ResultIsACopy(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	g := chainGraph("a.go", 3)
	first, err := e.Infer(context.Background(), g)
	require.NoError(t, err)
	want := append([]float32(nil), first.Embedding...)
	first.Embedding[0] = 99

	second, err := e.Infer(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, want, second.Embedding)
}

func TestEngine_KeyByContent(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	ctx := context.Background()

	_, err := e.Infer(ctx, chainGraph("a.go", 3))
	require.NoError(t, err)

	// Same content under another path shares the entry.
	res, err := e.Infer(ctx, chainGraph("b.go", 3))
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "b.go", res.FilePath)
	assert.Equal(t, "b.go", res.Metadata.FilePath)

	// Editing a.go misses; the old entry stays because b.go still uses it.
	res, err = e.Infer(ctx, chainGraph("a.go", 5))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	entries, _ := e.CacheStats()
	assert.Equal(t, 2, entries)

	// Editing b.go as well releases the shared entry.
	_, err = e.Infer(ctx, chainGraph("b.go", 6))
	require.NoError(t, err)
	entries, _ = e.CacheStats()
	assert.Equal(t, 2, entries)
	_, ok := e.Cached(chainGraph("x.go", 3))
	assert.False(t, ok)
}

func TestEngine_KeyByPathReturnsStaleEntry(t *testing.T) {
	e := testEngine(t, Config{UseCache: true, KeyBy: KeyByPath})
	ctx := context.Background()

	first, err := e.Infer(ctx, chainGraph("a.go", 3))
	require.NoError(t, err)
	edited, err := e.Infer(ctx, chainGraph("a.go", 7))
	require.NoError(t, err)
	assert.True(t, edited.Cached)
	assert.Equal(t, first.Embedding, edited.Embedding)
	assert.Equal(t, "path:a.go", edited.Key)
}

func TestEngine_NoCache(t *testing.T) {
	e := testEngine(t, Config{})
	g := chainGraph("a.go", 3)
	for range 2 {
		res, err := e.Infer(context.Background(), g)
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	entries, _ := e.CacheStats()
	assert.Zero(t, entries)
	assert.Equal(t, int64(2), e.Stats().Computes)
	_, ok := e.Cached(g)
	assert.False(t, ok)
}

func TestEngine_NilGraph(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	_, err := e.Infer(context.Background(), nil)
	assert.ErrorIs(t, err, compress.ErrNilGraph)
	assert.Equal(t, int64(1), e.Stats().Errors)
}

func TestEngine_InvalidConfigPanics(t *testing.T) {
	assert.Panics(t, func() { testEngine(t, Config{KeyBy: "random"}) })
	assert.Error(t, Config{BatchSize: -1}.Validate())
	assert.Error(t, Config{Workers: -1}.Validate())
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestEngine_ConcurrentSameKeyComputesOnce(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	g := chainGraph("a.go", 50)

	var wg sync.WaitGroup
	results := make([]*Result, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Infer(context.Background(), g)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), e.Stats().Computes)
	entries, _ := e.CacheStats()
	assert.Equal(t, 1, entries)
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].Embedding, r.Embedding)
	}
}

func TestEngine_AbandonedWaiterDoesNotCorruptCache(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	g := chainGraph("a.go", 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Infer(ctx, g); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	res, err := e.Infer(context.Background(), g)
	require.NoError(t, err)
	assert.Len(t, res.Embedding, 8)
	assert.Equal(t, int64(1), e.Stats().Computes)
	entries, _ := e.CacheStats()
	assert.Equal(t, 1, entries)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

func TestEngine_InferBatchFailsWhole(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	graphs := []*graph.CodeGraph{chainGraph("a.go", 2), nil, chainGraph("c.go", 4)}

	res, err := e.InferBatch(context.Background(), graphs)
	assert.ErrorIs(t, err, compress.ErrNilGraph)
	assert.Contains(t, err.Error(), "batch item 1")
	assert.Nil(t, res)

	entries, _ := e.CacheStats()
	assert.Equal(t, 1, entries, "items before the failure stay cached")
	assert.Equal(t, int64(1), e.Stats().Computes)
}

func TestEngine_InferEachIsLenient(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	items := e.InferEach(context.Background(), []*graph.CodeGraph{chainGraph("a.go", 2), nil, chainGraph("c.go", 4)})
	require.Len(t, items, 3)
	assert.NoError(t, items[0].Err)
	assert.ErrorIs(t, items[1].Err, compress.ErrNilGraph)
	assert.NoError(t, items[2].Err)
	assert.Equal(t, "c.go", items[2].Result.FilePath)
}

func TestEngine_InferParallel(t *testing.T) {
	e := testEngine(t, Config{UseCache: true, KeyBy: KeyByContent, Workers: 4})
	var graphs []*graph.CodeGraph
	for i := range 20 {
		// Ten distinct contents, each under two paths.
		graphs = append(graphs, chainGraph(fmt.Sprintf("f%02d.go", i), i%10+1))
	}

	res, err := e.InferParallel(context.Background(), graphs)
	require.NoError(t, err)
	require.Len(t, res, 20)
	for i, r := range res {
		assert.Equal(t, graphs[i].FilePath, r.FilePath)
	}
	assert.Equal(t, int64(10), e.Stats().Computes)
	entries, _ := e.CacheStats()
	assert.Equal(t, 10, entries)

	_, err = e.InferParallel(context.Background(), []*graph.CodeGraph{chainGraph("a.go", 1), nil})
	assert.ErrorIs(t, err, compress.ErrNilGraph)
}

func TestEngine_InferCodebaseUsesCache(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	ctx := context.Background()
	graphs := []*graph.CodeGraph{chainGraph("a.go", 3), chainGraph("b.go", 5)}

	_, err := e.InferBatch(ctx, graphs)
	require.NoError(t, err)
	computes := e.Stats().Computes

	emb, err := e.InferCodebase(ctx, graphs)
	require.NoError(t, err)
	assert.Equal(t, computes, e.Stats().Computes, "codebase reuses cached file embeddings")

	want, err := e.Compressor().CompressCodebase(ctx, graphs)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Vector, emb.Vector, 1e-6)
	assert.Equal(t, 2, emb.Metadata.GraphCount)

	_, err = e.InferCodebase(ctx, nil)
	assert.ErrorIs(t, err, compress.ErrEmptyCodebase)
}

func TestEngine_NodeEmbeddings(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	h, err := e.NodeEmbeddings(context.Background(), chainGraph("a.go", 6))
	require.NoError(t, err)
	assert.Equal(t, []int{6, 16}, h.Shape)
}

// ---------------------------------------------------------------------------
// Warm tier
// ---------------------------------------------------------------------------

func TestEngine_StoreWarmTier(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	g := chainGraph("a.go", 5)

	first := testEngine(t, DefaultConfig(), WithStore(store))
	want, err := first.Infer(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	for key := range store.data {
		assert.True(t, strings.HasPrefix(key, first.ModelID()+"/content:"), key)
	}

	second := testEngine(t, DefaultConfig(), WithStore(store))
	got, err := second.Infer(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, want.Embedding, got.Embedding)
	stats := second.Stats()
	assert.Equal(t, int64(1), stats.StoreHits)
	assert.Zero(t, stats.Computes)
	assert.Equal(t, 1, store.saves)
}
