package gnn

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegnn/internal/tensor"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// listGraph is a Graph backed by an adjacency map.
type listGraph struct {
	n   int
	adj Adjacency
}

func (g listGraph) NodeCount() int         { return g.n }
func (g listGraph) Neighbors(id int) []int { return g.adj[id] }

func smallConfig() Config {
	return Config{
		InputDim:    3,
		HiddenDims:  []int{4},
		OutputDim:   4,
		NumHeads:    2,
		Aggregation: AggregateMean,
	}
}

// chain returns A→B→C with distinct features.
func chain() (listGraph, map[int]*tensor.Tensor) {
	g := listGraph{n: 3, adj: Adjacency{0: {1}, 1: {2}}}
	features := map[int]*tensor.Tensor{
		0: row(1, 0, 0.5),
		1: row(0, 1, -0.5),
		2: row(0.25, 0.25, 1),
	}
	return g, features
}

func randomFeatures(n, dim int, seed uint64) map[int]*tensor.Tensor {
	rng := tensor.NewRand(seed)
	out := make(map[int]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		out[i] = tensor.Uniform(rng, 1, 1, dim)
	}
	return out
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty hidden dims", func(c *Config) { c.HiddenDims = nil }},
		{"zero input", func(c *Config) { c.InputDim = 0 }},
		{"negative hidden", func(c *Config) { c.HiddenDims = []int{4, -1} }},
		{"zero output", func(c *Config) { c.OutputDim = 0 }},
		{"zero heads", func(c *Config) { c.NumHeads = 0 }},
		{"dropout one", func(c *Config) { c.Dropout = 1 }},
		{"unknown aggregation", func(c *Config) { c.Aggregation = "lstm" }},
		{"unknown merge", func(c *Config) { c.HeadMerge = "max" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewSAGE_PanicsOnInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.HiddenDims = nil
	assert.Panics(t, func() { NewSAGE(cfg, tensor.NewRand(1)) })

	_, err := New(KindSAGE, cfg, tensor.NewRand(1))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New("transformer", smallConfig(), tensor.NewRand(1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewSAGE_DeterministicWeights(t *testing.T) {
	cfg := DefaultConfig()
	a := NewSAGE(cfg, tensor.NewRand(42)).Params()
	b := NewSAGE(cfg, tensor.NewRand(42)).Params()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.True(t, a[i].Equal(b[i]), "param %d differs", i)
	}
}

func TestModel_LayerWidths(t *testing.T) {
	cfg := Config{InputDim: 8, HiddenDims: []int{6, 5}, OutputDim: 7, NumHeads: 3}

	sage := NewSAGE(cfg, tensor.NewRand(1))
	require.Len(t, sage.Layers, 2)
	assert.Equal(t, 8, sage.Layers[0].InDim())
	assert.Equal(t, 6, sage.Layers[1].InDim())
	assert.Equal(t, 5, sage.EmbeddingDim())
	assert.NotNil(t, sage.Projection)

	gat := NewGAT(cfg, tensor.NewRand(1))
	assert.Equal(t, 18, gat.Layers[1].InDim(), "concat heads widen the next layer's input")
	assert.Equal(t, 15, gat.EmbeddingDim())

	hybrid := NewHybrid(cfg, tensor.NewRand(1))
	assert.Equal(t, KindSAGE, hybrid.Layers[0].Kind())
	assert.Equal(t, KindGAT, hybrid.Layers[1].Kind())

	same := NewSAGE(Config{InputDim: 4, HiddenDims: []int{7}, OutputDim: 7, NumHeads: 1}, tensor.NewRand(1))
	assert.Nil(t, same.Projection)
	assert.Positive(t, same.ParamCount())
}

// ---------------------------------------------------------------------------
// Forward passes
// ---------------------------------------------------------------------------

func TestForwardGraph_OutputDimIndependentOfSize(t *testing.T) {
	cfg := Config{InputDim: 6, HiddenDims: []int{8, 8}, OutputDim: 16, NumHeads: 2, UseAttentionPooling: true}
	builders := map[string]func(Config, *rand.Rand) *Model{
		"sage":   NewSAGE,
		"gat":    NewGAT,
		"hybrid": NewHybrid,
	}
	for name, newModel := range builders {
		m := newModel(cfg, tensor.NewRand(3))
		for _, n := range []int{0, 1, 1000} {
			adj := make(Adjacency, n)
			for i := 0; i+1 < n; i++ {
				adj[i] = []int{i + 1}
			}
			out := m.ForwardGraph(listGraph{n: n, adj: adj}, randomFeatures(n, 6, uint64(n)))
			assert.Equal(t, []int{16}, out.Shape, "%s with %d nodes", name, n)
		}
	}
}

func TestForwardGraph_ZeroNodesIsZeroVector(t *testing.T) {
	m := NewSAGE(DefaultConfig(), tensor.NewRand(1))
	out := m.ForwardGraph(listGraph{}, nil)
	assert.Equal(t, 512, out.Len())
	assert.Zero(t, out.L2Norm())
}

func TestForwardGraph_ThreeNodeChainMeanPooling(t *testing.T) {
	m := NewSAGE(smallConfig(), tensor.NewRand(7))
	require.Nil(t, m.Projection)
	l := m.Layers[0].(*SAGELayer)
	g, f := chain()

	hA := manualSAGE(l, f[0], f[1].Data)
	hB := manualSAGE(l, f[1], f[2].Data)
	hC := manualSAGE(l, f[2], []float32{0, 0, 0})
	want := make([]float32, 4)
	for i := range want {
		want[i] = (hA[i] + hB[i] + hC[i]) / 3
	}

	got := m.ForwardGraph(g, f)
	assert.InDeltaSlice(t, want, got.Data, 1e-5)
}

func TestForwardGraph_LockStepUsesPreviousLayer(t *testing.T) {
	cfg := smallConfig()
	cfg.HiddenDims = []int{4, 4}
	m := NewSAGE(cfg, tensor.NewRand(2))
	g, f := chain()

	l1, l2 := m.Layers[0], m.Layers[1]
	h1 := map[int]*tensor.Tensor{
		0: l1.Forward(f[0], []*tensor.Tensor{f[1]}),
		1: l1.Forward(f[1], []*tensor.Tensor{f[2]}),
		2: l1.Forward(f[2], nil),
	}
	h2 := []*tensor.Tensor{
		l2.Forward(h1[0], []*tensor.Tensor{h1[1]}),
		l2.Forward(h1[1], []*tensor.Tensor{h1[2]}),
		l2.Forward(h1[2], nil),
	}
	want := tensor.Stack(4, h2...).MeanRows()

	assert.True(t, m.ForwardGraph(g, f).AllClose(want, 1e-5))
	assert.True(t, m.NodeEmbeddings(f, g.adj).AllClose(tensor.Stack(4, h2...), 1e-6))
}

func TestForwardGraph_MissingFeaturesAreSkipped(t *testing.T) {
	m := NewSAGE(smallConfig(), tensor.NewRand(7))
	g, f := chain()
	delete(f, 1)

	// Node 1 is gone; node 0 loses its only neighbor.
	want := m.ForwardGraph(listGraph{n: 3, adj: Adjacency{}}, f)
	assert.True(t, m.ForwardGraph(g, f).AllClose(want, 1e-6))

	emb := m.NodeEmbeddings(f, g.adj)
	assert.Equal(t, []int{2, 4}, emb.Shape)
}

func TestForward_MatrixFormMatchesMap(t *testing.T) {
	m := NewGAT(smallConfig(), tensor.NewRand(8))
	g, f := chain()
	x := tensor.Stack(3, f[0], f[1], f[2])
	assert.True(t, m.Forward(x, g.adj).AllClose(m.ForwardGraph(g, f), 1e-6))
}

func TestForwardGraph_Idempotent(t *testing.T) {
	m := NewHybrid(DefaultConfig(), tensor.NewRand(5))
	f := randomFeatures(20, 128, 1)
	adj := Adjacency{}
	for i := 0; i < 20; i++ {
		adj[i] = []int{(i + 1) % 20, (i + 7) % 20}
	}
	g := listGraph{n: 20, adj: adj}
	assert.True(t, m.ForwardGraph(g, f).Equal(m.ForwardGraph(g, f)))
}

// ---------------------------------------------------------------------------
// GraphBatch
// ---------------------------------------------------------------------------

func TestForwardBatch_MatchesIndividualGraphs(t *testing.T) {
	m := NewSAGE(Config{InputDim: 3, HiddenDims: []int{5}, OutputDim: 6, NumHeads: 1, UseAttentionPooling: true}, tensor.NewRand(4))
	g1, f1 := chain()
	f2 := randomFeatures(2, 3, 9)
	adj2 := Adjacency{0: {1}, 1: {0}}

	b := NewGraphBatch(
		BatchGraph{Features: f1, Adjacency: g1.adj, Size: 3},
		BatchGraph{Features: f2, Adjacency: adj2},
		BatchGraph{},
	)
	require.Equal(t, 3, b.Len())
	assert.Equal(t, []int{0, 3, 5}, b.Offsets)
	assert.Equal(t, 5, b.NodeCount())
	assert.Equal(t, 1, b.GraphOf(4))
	assert.Equal(t, -1, b.GraphOf(9))

	out := m.ForwardBatch(b)
	require.Len(t, out, 3)
	assert.True(t, out[0].AllClose(m.ForwardGraph(g1, f1), 1e-5))
	assert.True(t, out[1].AllClose(m.ForwardGraph(listGraph{n: 2, adj: adj2}, f2), 1e-5))
	assert.Zero(t, out[2].L2Norm())
}
