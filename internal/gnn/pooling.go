package gnn

import (
	"fmt"
	"math/rand/v2"

	"github.com/dusk-indust/codegnn/internal/tensor"
)

// PoolKind selects the graph readout.
type PoolKind string

const (
	PoolMean      PoolKind = "mean"
	PoolSum       PoolKind = "sum"
	PoolMax       PoolKind = "max"
	PoolAttention PoolKind = "attention"
)

// Pooling reduces an n×Dim matrix of node embeddings to one length-Dim
// graph vector. Attention pooling learns a scalar score per node,
// s_i = V·tanh(h_i·W + B), and returns the softmax(s)-weighted node sum.
type Pooling struct {
	Kind PoolKind
	Dim  int

	W *tensor.Tensor // Dim × hidden, attention only
	B *tensor.Tensor // 1 × hidden, attention only
	V *tensor.Tensor // hidden × 1, attention only
}

// NewPooling builds a readout over dim-wide node embeddings.
func NewPooling(kind PoolKind, dim int, rng *rand.Rand) *Pooling {
	p := &Pooling{Kind: kind, Dim: dim}
	if kind == PoolAttention {
		hidden := max(1, dim/2)
		p.W = tensor.XavierUniform(rng, dim, hidden)
		p.B = tensor.Zeros(1, hidden)
		p.V = tensor.XavierUniform(rng, hidden, 1)
	}
	return p
}

// Params returns the learned weights; empty for the fixed readouts.
func (p *Pooling) Params() []*tensor.Tensor {
	if p.Kind != PoolAttention {
		return nil
	}
	return []*tensor.Tensor{p.W, p.B, p.V}
}

// Pool returns a 1-D tensor of length Dim. A graph with no nodes pools to
// the zero vector.
func (p *Pooling) Pool(nodes *tensor.Tensor) *tensor.Tensor {
	if nodes.Dims() != 2 || nodes.Shape[1] != p.Dim {
		panic(fmt.Sprintf("gnn: pooling expects n×%d embeddings, got shape %v", p.Dim, nodes.Shape))
	}
	if nodes.Shape[0] == 0 {
		return tensor.Zeros(p.Dim)
	}
	switch p.Kind {
	case PoolSum:
		return nodes.SumRows()
	case PoolMax:
		return nodes.MaxRows()
	case PoolAttention:
		return p.attend(nodes)
	default:
		return nodes.MeanRows()
	}
}

// Weights returns the per-node attention weights, or uniform weights for
// the other readouts. It is used to explain which nodes dominate a graph.
func (p *Pooling) Weights(nodes *tensor.Tensor) []float32 {
	n := nodes.Shape[0]
	if n == 0 {
		return nil
	}
	if p.Kind != PoolAttention {
		w := make([]float32, n)
		for i := range w {
			w[i] = 1 / float32(n)
		}
		return w
	}
	return p.scores(nodes)
}

func (p *Pooling) attend(nodes *tensor.Tensor) *tensor.Tensor {
	w := p.scores(nodes)
	out := tensor.Zeros(p.Dim)
	for i, wi := range w {
		row := nodes.Data[i*p.Dim : (i+1)*p.Dim]
		for k, v := range row {
			out.Data[k] += wi * v
		}
	}
	return out
}

func (p *Pooling) scores(nodes *tensor.Tensor) []float32 {
	hidden := nodes.MatMul(p.W)
	cols := hidden.Shape[1]
	for r := 0; r < hidden.Shape[0]; r++ {
		for c := 0; c < cols; c++ {
			hidden.Data[r*cols+c] += p.B.Data[c]
		}
	}
	s := hidden.Tanh().MatMul(p.V).Data
	tensor.SoftmaxInPlace(s)
	return s
}
