// Package compress reduces code graphs to fixed-size embeddings with a GNN
// model. Compression is a pure function of the graph, the model weights and
// the configuration; caching lives in the inference package.
package compress

import (
	"context"
	"errors"
	"fmt"

	"github.com/dusk-indust/codegnn/internal/features"
	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

var (
	// ErrEmptyCodebase is returned by CompressCodebase for zero graphs.
	ErrEmptyCodebase = errors.New("cannot compress an empty codebase")
	// ErrNilGraph is returned when a nil graph is passed in.
	ErrNilGraph = errors.New("nil graph")
	// ErrDimensionMismatch reports a model whose output or input width does
	// not fit the compressor.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Config controls post-processing of the model output.
type Config struct {
	// Normalize L2-normalizes every embedding.
	Normalize bool `json:"normalize" yaml:"normalize"`
	// MaxNeighbors caps the neighbors each node aggregates, in edge order.
	// Zero aggregates all of them.
	MaxNeighbors int `json:"max_neighbors" yaml:"maxNeighbors"`
}

// DefaultConfig normalizes embeddings and keeps every neighbor.
func DefaultConfig() Config {
	return Config{Normalize: true}
}

// Compressor turns a CodeGraph into a ProjectEmbedding. It holds no
// mutable state and is safe for concurrent use.
type Compressor struct {
	model     *gnn.Model
	extractor *features.Extractor
	cfg       Config
}

// New returns a Compressor. The extractor's width must equal the model's
// input dimension.
func New(model *gnn.Model, extractor *features.Extractor, cfg Config) (*Compressor, error) {
	if model == nil || extractor == nil {
		return nil, errors.New("compress: model and extractor are required")
	}
	if extractor.Dim() != model.Config.InputDim {
		return nil, fmt.Errorf("compress: %w: features are %d wide, model expects %d",
			ErrDimensionMismatch, extractor.Dim(), model.Config.InputDim)
	}
	if cfg.MaxNeighbors < 0 {
		return nil, fmt.Errorf("compress: max neighbors must not be negative, got %d", cfg.MaxNeighbors)
	}
	return &Compressor{model: model, extractor: extractor, cfg: cfg}, nil
}

// Model returns the underlying model.
func (c *Compressor) Model() *gnn.Model { return c.model }

// Extractor returns the feature extractor.
func (c *Compressor) Extractor() *features.Extractor { return c.extractor }

// Config returns the compressor configuration.
func (c *Compressor) Config() Config { return c.cfg }

// OutputDim is the length of every embedding vector.
func (c *Compressor) OutputDim() int { return c.model.OutputDim() }

// Compress embeds g. A graph with no nodes yields a zero vector. When
// normalization is on and the raw vector's norm is below
// tensor.NormEpsilon, the raw vector is returned with Degenerate set.
func (c *Compressor) Compress(ctx context.Context, g *graph.CodeGraph) (*ProjectEmbedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("compress: %w", ErrNilGraph)
	}

	vec := c.forward(g)
	if vec.Len() != c.model.OutputDim() {
		return nil, fmt.Errorf("compress %s: %w: model produced %d values, want %d",
			g.FilePath, ErrDimensionMismatch, vec.Len(), c.model.OutputDim())
	}

	emb := &ProjectEmbedding{Metadata: metadataOf(g)}
	emb.Vector, emb.Degenerate = c.finish(vec.Data)
	return emb, nil
}

// CompressCodebase embeds every graph and returns their mean, normalized
// again when normalization is on. Metadata counts are summed.
func (c *Compressor) CompressCodebase(ctx context.Context, graphs []*graph.CodeGraph) (*ProjectEmbedding, error) {
	if len(graphs) == 0 {
		return nil, ErrEmptyCodebase
	}
	parts := make([]*ProjectEmbedding, 0, len(graphs))
	for _, g := range graphs {
		emb, err := c.Compress(ctx, g)
		if err != nil {
			return nil, err
		}
		parts = append(parts, emb)
	}
	return c.Combine(parts)
}

// Combine averages already computed file embeddings into one codebase
// embedding, the way CompressCodebase does, without running the model.
func (c *Compressor) Combine(parts []*ProjectEmbedding) (*ProjectEmbedding, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyCodebase
	}
	vectors := make([][]float32, 0, len(parts))
	meta := &Metadata{Languages: make(map[string]int)}
	for _, p := range parts {
		if len(p.Vector) != c.OutputDim() {
			return nil, fmt.Errorf("combine: %w: %d values, want %d", ErrDimensionMismatch, len(p.Vector), c.OutputDim())
		}
		vectors = append(vectors, p.Vector)
		meta.GraphCount++
		if p.Metadata == nil {
			continue
		}
		meta.NodeCount += p.Metadata.NodeCount
		meta.EdgeCount += p.Metadata.EdgeCount
		for lang, n := range p.Metadata.Languages {
			meta.Languages[lang] += n
		}
	}

	out := &ProjectEmbedding{Metadata: meta}
	out.Vector, out.Degenerate = c.finish(tensor.MeanOf(vectors...))
	return out, nil
}

// Similarity is the cosine similarity of the embeddings of g1 and g2.
func (c *Compressor) Similarity(ctx context.Context, g1, g2 *graph.CodeGraph) (float32, error) {
	a, err := c.Compress(ctx, g1)
	if err != nil {
		return 0, err
	}
	b, err := c.Compress(ctx, g2)
	if err != nil {
		return 0, err
	}
	return tensor.CosineSimilarity(a.Vector, b.Vector), nil
}

// NodeEmbeddings returns the pre-pooling embedding of every node as an
// n×EmbeddingDim matrix, rows in ascending node id order.
func (c *Compressor) NodeEmbeddings(ctx context.Context, g *graph.CodeGraph) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("compress: %w", ErrNilGraph)
	}
	return c.model.NodeEmbeddings(c.extractor.ExtractGraph(g), c.adjacency(g)), nil
}

func (c *Compressor) forward(g *graph.CodeGraph) *tensor.Tensor {
	adj := c.adjacency(g)
	return c.model.ForwardGraph(adj.Graph(g.NodeCount()), c.extractor.ExtractGraph(g))
}

func (c *Compressor) adjacency(g *graph.CodeGraph) gnn.Adjacency {
	return gnn.Adjacency(g.Adjacency(c.cfg.MaxNeighbors))
}

// finish normalizes v when configured and reports whether v is degenerate.
func (c *Compressor) finish(v []float32) ([]float32, bool) {
	t := tensor.Vector(v)
	if !c.cfg.Normalize {
		return t.Data, t.L2Norm() < tensor.NormEpsilon
	}
	out, ok := t.Normalize(tensor.NormEpsilon)
	return out.Data, !ok
}

func metadataOf(g *graph.CodeGraph) *Metadata {
	return &Metadata{
		FilePath:    g.FilePath,
		Language:    string(g.Language),
		GraphCount:  1,
		NodeCount:   g.NodeCount(),
		EdgeCount:   g.EdgeCount(),
		Languages:   g.LanguageCounts(),
		Fingerprint: g.Fingerprint(),
	}
}
