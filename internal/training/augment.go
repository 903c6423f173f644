package training

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/dusk-indust/codegnn/internal/features"
	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// ErrTooFewGraphs is returned by Dataset.Sample when negatives cannot be
// drawn from a different graph.
var ErrTooFewGraphs = errors.New("contrastive sampling needs at least two graphs")

// Augmentor produces perturbed views of a graph. Keys are visited in
// ascending order so a seeded generator yields the same view every run.
type Augmentor struct {
	// DropEdgeProb is the chance each neighbor link is removed.
	DropEdgeProb float32 `json:"drop_edge_prob" yaml:"dropEdgeProb"`
	// FeatureNoiseStd scales the Gaussian noise added to every feature.
	FeatureNoiseStd float32 `json:"feature_noise_std" yaml:"featureNoiseStd"`
}

// DropEdges returns a copy of adj without the dropped links.
func (a Augmentor) DropEdges(adj gnn.Adjacency, rng *rand.Rand) gnn.Adjacency {
	out := make(gnn.Adjacency, len(adj))
	for _, id := range slices.Sorted(maps.Keys(adj)) {
		kept := make([]int, 0, len(adj[id]))
		for _, nb := range adj[id] {
			if rng.Float32() >= a.DropEdgeProb {
				kept = append(kept, nb)
			}
		}
		out[id] = kept
	}
	return out
}

// AddFeatureNoise returns copies of the feature rows with noise added.
func (a Augmentor) AddFeatureNoise(feats map[int]*tensor.Tensor, rng *rand.Rand) map[int]*tensor.Tensor {
	out := make(map[int]*tensor.Tensor, len(feats))
	for _, id := range slices.Sorted(maps.Keys(feats)) {
		std := a.FeatureNoiseStd
		out[id] = feats[id].Map(func(v float32) float32 {
			return v + float32(rng.NormFloat64())*std
		})
	}
	return out
}

// Augment perturbs features first, then edges.
func (a Augmentor) Augment(g gnn.BatchGraph, rng *rand.Rand) gnn.BatchGraph {
	return gnn.BatchGraph{
		Features:  a.AddFeatureNoise(g.Features, rng),
		Adjacency: a.DropEdges(g.Adjacency, rng),
		Size:      g.Size,
	}
}

// FromCodeGraph converts a parsed graph into a batch member using the
// extractor's features and an adjacency capped at maxNeighbors.
func FromCodeGraph(ext *features.Extractor, g *graph.CodeGraph, maxNeighbors int) gnn.BatchGraph {
	return gnn.BatchGraph{
		Features:  ext.ExtractGraph(g),
		Adjacency: gnn.Adjacency(g.Adjacency(maxNeighbors)),
		Size:      g.NodeCount(),
	}
}

// Dataset samples contrastive triplets: two augmented views of one graph
// as anchor and positive, and an unmodified different graph as negative.
type Dataset struct {
	graphs    []gnn.BatchGraph
	augmentor Augmentor
}

// NewDataset wraps graphs for sampling.
func NewDataset(graphs []gnn.BatchGraph, aug Augmentor) *Dataset {
	return &Dataset{graphs: graphs, augmentor: aug}
}

// Len returns the number of source graphs.
func (d *Dataset) Len() int { return len(d.graphs) }

// Sample draws n triplets.
func (d *Dataset) Sample(n int, rng *rand.Rand) ([]Triplet, error) {
	if len(d.graphs) < 2 {
		return nil, fmt.Errorf("training: %w, have %d", ErrTooFewGraphs, len(d.graphs))
	}
	out := make([]Triplet, n)
	for i := range out {
		idx := rng.IntN(len(d.graphs))
		neg := rng.IntN(len(d.graphs) - 1)
		if neg >= idx {
			neg++
		}
		src := d.graphs[idx]
		out[i] = Triplet{
			Anchor:   d.augmentor.Augment(src, rng),
			Positive: d.augmentor.Augment(src, rng),
			Negative: d.graphs[neg],
		}
	}
	return out, nil
}
