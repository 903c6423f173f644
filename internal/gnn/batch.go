package gnn

import (
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// BatchGraph is one member of a GraphBatch: node features keyed by local
// node id and the local adjacency.
type BatchGraph struct {
	Features  map[int]*tensor.Tensor
	Adjacency Adjacency
	Size      int // number of node ids; ids are 0..Size-1
}

// GraphBatch packs several disjoint graphs into one id space so a single
// lock-step pass embeds all of them.
type GraphBatch struct {
	Features  map[int]*tensor.Tensor
	Adjacency Adjacency
	Offsets   []int
	Sizes     []int
}

// NewGraphBatch offsets each graph's ids by the sizes of the graphs before
// it.
func NewGraphBatch(graphs ...BatchGraph) *GraphBatch {
	b := &GraphBatch{
		Features:  make(map[int]*tensor.Tensor),
		Adjacency: make(Adjacency),
	}
	offset := 0
	for _, g := range graphs {
		size := g.Size
		for id := range g.Features {
			size = max(size, id+1)
		}
		for id, f := range g.Features {
			b.Features[id+offset] = f
		}
		for id, nbs := range g.Adjacency {
			shifted := make([]int, len(nbs))
			for i, nb := range nbs {
				shifted[i] = nb + offset
			}
			b.Adjacency[id+offset] = shifted
		}
		b.Offsets = append(b.Offsets, offset)
		b.Sizes = append(b.Sizes, size)
		offset += size
	}
	return b
}

// Len returns the number of graphs in the batch.
func (b *GraphBatch) Len() int { return len(b.Offsets) }

// NodeCount returns the total number of node ids across all graphs.
func (b *GraphBatch) NodeCount() int {
	if len(b.Offsets) == 0 {
		return 0
	}
	last := len(b.Offsets) - 1
	return b.Offsets[last] + b.Sizes[last]
}

// GraphOf returns the index of the graph that owns node id, or -1.
func (b *GraphBatch) GraphOf(id int) int {
	for i, off := range b.Offsets {
		if id >= off && id < off+b.Sizes[i] {
			return i
		}
	}
	return -1
}

// ForwardBatch embeds every graph in the batch and returns one OutputDim
// vector per graph, in batch order.
func (m *Model) ForwardBatch(b *GraphBatch) []*tensor.Tensor {
	ids, h := m.propagate(b.Features, b.Adjacency)
	return m.PoolByGraph(b, ids, h)
}

// PoolByGraph groups node embeddings by owning graph and reads each group
// out separately.
func (m *Model) PoolByGraph(b *GraphBatch, ids []int, h map[int]*tensor.Tensor) []*tensor.Tensor {
	groups := make([][]*tensor.Tensor, b.Len())
	for _, id := range ids {
		if g := b.GraphOf(id); g >= 0 {
			groups[g] = append(groups[g], h[id])
		}
	}
	out := make([]*tensor.Tensor, b.Len())
	for i, rows := range groups {
		out[i] = m.readout(tensor.Stack(m.EmbeddingDim(), rows...))
	}
	return out
}
