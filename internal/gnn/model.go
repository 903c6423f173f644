package gnn

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/dusk-indust/codegnn/internal/tensor"
)

// Graph is the structural view of a code graph the model needs. Node ids
// are 0..NodeCount()-1.
type Graph interface {
	NodeCount() int
	Neighbors(id int) []int
}

// Adjacency maps a node id to the ids whose embeddings it aggregates.
type Adjacency map[int][]int

// Graph returns a Graph view over nodes 0..n-1 with this adjacency.
func (a Adjacency) Graph(n int) Graph { return adjacencyGraph{n: n, adj: a} }

type adjacencyGraph struct {
	n   int
	adj Adjacency
}

func (g adjacencyGraph) NodeCount() int         { return g.n }
func (g adjacencyGraph) Neighbors(id int) []int { return g.adj[id] }

// Model is a stack of message-passing layers followed by a pooling stage
// and, when the last layer width differs from OutputDim, a linear output
// projection. Weights are only mutated by training code.
type Model struct {
	Config     Config
	Kind       Kind
	Layers     []Layer
	Pooling    *Pooling
	Projection *tensor.Tensor // nil when no projection is needed
}

// NewSAGE builds a GraphSAGE model. It panics on an invalid config; call
// Config.Validate first when the config comes from user input.
func NewSAGE(cfg Config, rng *rand.Rand) *Model {
	return build(KindSAGE, cfg, rng)
}

// NewGAT builds a graph attention model.
func NewGAT(cfg Config, rng *rand.Rand) *Model {
	return build(KindGAT, cfg, rng)
}

// NewHybrid alternates SAGE (even layers) and GAT (odd layers).
func NewHybrid(cfg Config, rng *rand.Rand) *Model {
	return build(KindHybrid, cfg, rng)
}

// New dispatches on kind.
func New(kind Kind, cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindSAGE, KindGAT, KindHybrid:
		return build(kind, cfg, rng), nil
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", ErrInvalidConfig, kind)
	}
}

func build(kind Kind, cfg Config, rng *rand.Rand) *Model {
	cfg.mustValidate()
	cfg.HiddenDims = slices.Clone(cfg.HiddenDims)

	m := &Model{Config: cfg, Kind: kind}
	in := cfg.InputDim
	for i, hidden := range cfg.HiddenDims {
		var l Layer
		useGAT := kind == KindGAT || (kind == KindHybrid && i%2 == 1)
		if useGAT {
			l = NewGATLayer(in, hidden, cfg.NumHeads, cfg.headMerge(), rng)
		} else {
			l = NewSAGELayer(in, hidden, cfg.aggregation(), rng)
		}
		m.Layers = append(m.Layers, l)
		in = l.OutDim()
	}

	pool := PoolMean
	if cfg.UseAttentionPooling {
		pool = PoolAttention
	}
	m.Pooling = NewPooling(pool, in, rng)
	if in != cfg.OutputDim {
		m.Projection = tensor.XavierUniform(rng, in, cfg.OutputDim)
	}
	return m
}

// EmbeddingDim is the width of node embeddings after the last layer.
func (m *Model) EmbeddingDim() int {
	return m.Layers[len(m.Layers)-1].OutDim()
}

// OutputDim is the length of every graph embedding.
func (m *Model) OutputDim() int { return m.Config.OutputDim }

// Params returns every weight tensor in a stable order: layers, pooling,
// projection.
func (m *Model) Params() []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, l := range m.Layers {
		out = append(out, l.Params()...)
	}
	out = append(out, m.Pooling.Params()...)
	if m.Projection != nil {
		out = append(out, m.Projection)
	}
	return out
}

// ParamCount returns the number of scalar weights.
func (m *Model) ParamCount() int {
	n := 0
	for _, p := range m.Params() {
		n += p.Len()
	}
	return n
}

// ForwardGraph embeds a whole graph. Nodes without an entry in features
// are skipped, both as nodes and as neighbors. The result always has
// length OutputDim.
func (m *Model) ForwardGraph(g Graph, features map[int]*tensor.Tensor) *tensor.Tensor {
	n := g.NodeCount()
	present := make(map[int]*tensor.Tensor, len(features))
	adj := make(Adjacency, n)
	for id := 0; id < n; id++ {
		f, ok := features[id]
		if !ok {
			continue
		}
		present[id] = f
		adj[id] = g.Neighbors(id)
	}
	return m.readout(m.NodeEmbeddings(present, adj))
}

// NodeEmbeddings runs every layer in lock-step over all nodes in features
// and returns the pre-pooling n×EmbeddingDim matrix, rows in ascending
// node id order.
func (m *Model) NodeEmbeddings(features map[int]*tensor.Tensor, adj Adjacency) *tensor.Tensor {
	ids, h := m.propagate(features, adj)
	rows := make([]*tensor.Tensor, len(ids))
	for i, id := range ids {
		rows[i] = h[id]
	}
	return tensor.Stack(m.EmbeddingDim(), rows...)
}

// Forward embeds a graph given as an n×InputDim feature matrix; row i is
// node i.
func (m *Model) Forward(x *tensor.Tensor, adj Adjacency) *tensor.Tensor {
	features := make(map[int]*tensor.Tensor, x.Rows())
	for i := 0; i < x.Rows(); i++ {
		features[i] = x.Row(i)
	}
	return m.readout(m.NodeEmbeddings(features, adj))
}

// Readout pools node embeddings and applies the output projection.
func (m *Model) Readout(nodes *tensor.Tensor) *tensor.Tensor {
	return m.readout(nodes)
}

func (m *Model) readout(nodes *tensor.Tensor) *tensor.Tensor {
	if nodes.Shape[0] == 0 {
		return tensor.Zeros(m.Config.OutputDim)
	}
	pooled := m.Pooling.Pool(nodes)
	if m.Projection == nil {
		return pooled
	}
	return pooled.Reshape(1, pooled.Len()).MatMul(m.Projection).Flatten()
}

// propagate applies the layers in lock-step: at layer l every node reads
// its neighbors' layer l-1 embeddings.
func (m *Model) propagate(features map[int]*tensor.Tensor, adj Adjacency) ([]int, map[int]*tensor.Tensor) {
	ids := make([]int, 0, len(features))
	for id := range features {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	h := features
	for _, layer := range m.Layers {
		next := make(map[int]*tensor.Tensor, len(ids))
		var neigh []*tensor.Tensor
		for _, id := range ids {
			neigh = neigh[:0]
			for _, nb := range adj[id] {
				if v, ok := h[nb]; ok {
					neigh = append(neigh, v)
				}
			}
			next[id] = layer.Forward(h[id], neigh)
		}
		h = next
	}
	return ids, h
}
