package gnn

import (
	"fmt"
	"math/rand/v2"

	"github.com/dusk-indust/codegnn/internal/tensor"
)

// Layer is one message-passing step. Forward combines a node's current
// embedding with its neighbors' current embeddings. Dimension mismatches
// panic.
type Layer interface {
	Forward(node *tensor.Tensor, neighbors []*tensor.Tensor) *tensor.Tensor
	InDim() int
	OutDim() int
	Kind() Kind
	// Params returns the weight tensors in a stable order.
	Params() []*tensor.Tensor
}

var (
	_ Layer = (*SAGELayer)(nil)
	_ Layer = (*GATLayer)(nil)
)

// --- GraphSAGE ---

// SAGELayer computes relu(x·WSelf + agg(neighbors)·WNeigh + Bias).
type SAGELayer struct {
	WSelf       *tensor.Tensor
	WNeigh      *tensor.Tensor
	Bias        *tensor.Tensor
	Aggregation Aggregation
}

// NewSAGELayer builds an in→out layer with Xavier-uniform weights and a
// zero bias.
func NewSAGELayer(in, out int, agg Aggregation, rng *rand.Rand) *SAGELayer {
	return &SAGELayer{
		WSelf:       tensor.XavierUniform(rng, in, out),
		WNeigh:      tensor.XavierUniform(rng, in, out),
		Bias:        tensor.Zeros(1, out),
		Aggregation: agg,
	}
}

func (l *SAGELayer) InDim() int  { return l.WSelf.Shape[0] }
func (l *SAGELayer) OutDim() int { return l.WSelf.Shape[1] }
func (l *SAGELayer) Kind() Kind  { return KindSAGE }

func (l *SAGELayer) Params() []*tensor.Tensor {
	return []*tensor.Tensor{l.WSelf, l.WNeigh, l.Bias}
}

// Forward returns a 1×OutDim embedding. With no neighbors the neighbor
// term is the zero vector.
func (l *SAGELayer) Forward(node *tensor.Tensor, neighbors []*tensor.Tensor) *tensor.Tensor {
	in := l.InDim()
	x := asRow(node, in, "sage")
	agg := aggregate(neighbors, in, l.Aggregation)
	return x.MatMul(l.WSelf).Add(agg.MatMul(l.WNeigh)).Add(l.Bias).ReLU()
}

// aggregate reduces neighbor rows to a single 1×dim row.
func aggregate(neighbors []*tensor.Tensor, dim int, agg Aggregation) *tensor.Tensor {
	if len(neighbors) == 0 {
		return tensor.Zeros(1, dim)
	}
	rows := make([]*tensor.Tensor, len(neighbors))
	for i, n := range neighbors {
		rows[i] = asRow(n, dim, "aggregate")
	}
	m := tensor.Stack(dim, rows...)
	var out *tensor.Tensor
	switch agg {
	case AggregateSum:
		out = m.SumRows()
	case AggregateMax:
		out = m.MaxRows()
	default:
		out = m.MeanRows()
	}
	return out.Reshape(1, dim)
}

// asRow checks that t holds exactly dim values and returns it as 1×dim.
func asRow(t *tensor.Tensor, dim int, op string) *tensor.Tensor {
	if t.Len() != dim {
		panic(fmt.Sprintf("gnn: %s expects %d features, got shape %v", op, dim, t.Shape))
	}
	if t.Dims() == 2 && t.Shape[0] == 1 {
		return t
	}
	return t.Reshape(1, dim)
}

// --- GAT ---

const gatNegativeSlope = 0.2

// GATLayer is a multi-head graph attention layer. Each head scores a
// neighbor with LeakyReLU(a·[Wx_self || Wx_j]), softmaxes the scores over
// the neighbor set and adds the weighted neighbor sum to the node's own
// projection. Heads are concatenated or averaged, then bias and ELU are
// applied.
type GATLayer struct {
	W       *tensor.Tensor   // in × heads*headDim
	Attn    []*tensor.Tensor // per head, length 2*headDim
	Bias    *tensor.Tensor   // 1 × OutDim
	Heads   int
	HeadDim int
	Merge   HeadMerge
}

// NewGATLayer builds a layer with heads attention heads of width headDim.
func NewGATLayer(in, headDim, heads int, merge HeadMerge, rng *rand.Rand) *GATLayer {
	l := &GATLayer{
		W:       tensor.XavierUniform(rng, in, heads*headDim),
		Heads:   heads,
		HeadDim: headDim,
		Merge:   merge,
	}
	l.Attn = make([]*tensor.Tensor, heads)
	for h := range l.Attn {
		l.Attn[h] = tensor.XavierUniform(rng, 2*headDim, 1).Flatten()
	}
	l.Bias = tensor.Zeros(1, l.OutDim())
	return l
}

func (l *GATLayer) InDim() int { return l.W.Shape[0] }
func (l *GATLayer) Kind() Kind { return KindGAT }

func (l *GATLayer) OutDim() int {
	if l.Merge == HeadAverage {
		return l.HeadDim
	}
	return l.Heads * l.HeadDim
}

func (l *GATLayer) Params() []*tensor.Tensor {
	out := []*tensor.Tensor{l.W}
	out = append(out, l.Attn...)
	return append(out, l.Bias)
}

// Forward returns a 1×OutDim embedding.
func (l *GATLayer) Forward(node *tensor.Tensor, neighbors []*tensor.Tensor) *tensor.Tensor {
	in := l.InDim()
	self := asRow(node, in, "gat").MatMul(l.W).Data
	proj := make([][]float32, len(neighbors))
	for j, n := range neighbors {
		proj[j] = asRow(n, in, "gat").MatMul(l.W).Data
	}

	d := l.HeadDim
	heads := make([][]float32, l.Heads)
	scores := make([]float32, len(neighbors))
	for h := 0; h < l.Heads; h++ {
		lo, hi := h*d, (h+1)*d
		head := append([]float32(nil), self[lo:hi]...)
		if len(neighbors) > 0 {
			a := l.Attn[h].Data
			selfScore := dotf(a[:d], self[lo:hi])
			for j, z := range proj {
				s := selfScore + dotf(a[d:], z[lo:hi])
				if s < 0 {
					s *= gatNegativeSlope
				}
				scores[j] = s
			}
			tensor.SoftmaxInPlace(scores)
			for j, z := range proj {
				for k := range head {
					head[k] += scores[j] * z[lo+k]
				}
			}
		}
		heads[h] = head
	}

	var merged []float32
	if l.Merge == HeadAverage {
		merged = make([]float32, d)
		for _, head := range heads {
			for k, v := range head {
				merged[k] += v / float32(l.Heads)
			}
		}
	} else {
		merged = make([]float32, 0, l.Heads*d)
		for _, head := range heads {
			merged = append(merged, head...)
		}
	}
	return tensor.FromSlice(merged, 1, len(merged)).Add(l.Bias).ELU(1)
}

func dotf(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
