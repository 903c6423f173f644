package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/embedstore"
	"github.com/dusk-indust/codegnn/internal/features"
	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// Dir is the directory relative paths in the config resolve against: the
// directory of the file it was read from, or "." for defaults.
func (c *ProjectConfig) Dir() string {
	if c.Path == "" {
		return "."
	}
	return filepath.Dir(c.Path)
}

// NewModel loads the saved model at model.path, or builds a freshly
// initialised one from the architecture fields and seed.
func (c *ProjectConfig) NewModel() (*gnn.Model, error) {
	if c.Model.Path != "" {
		m, err := gnn.LoadFile(Resolve(c.Dir(), c.Model.Path))
		if err != nil {
			return nil, fmt.Errorf("load model: %w", err)
		}
		return m, nil
	}
	return gnn.New(c.Model.Kind, c.Model.Config, tensor.NewRand(c.Model.Seed))
}

// NewCompressor builds the model and feature extractor and joins them.
func (c *ProjectConfig) NewCompressor() (*compress.Compressor, error) {
	model, err := c.NewModel()
	if err != nil {
		return nil, err
	}
	return compress.New(model, features.New(c.Features), c.Compress)
}

// OpenStore opens the embedding store, or returns nil when it is disabled.
func (c *ProjectConfig) OpenStore(logger *slog.Logger) (*embedstore.Store, error) {
	if !c.Store.Enabled {
		return nil, nil
	}
	cfg := c.Store.Config
	cfg.Path = Resolve(c.Dir(), cfg.Path)
	cfg.Logger = logger
	return embedstore.Open(cfg)
}

// NewEngine builds an engine over comp, backed by store when it is not nil.
func (c *ProjectConfig) NewEngine(comp *compress.Compressor, store *embedstore.Store, logger *slog.Logger) *inference.Engine {
	opts := []inference.Option{inference.WithLogger(logger)}
	if store != nil {
		opts = append(opts, inference.WithStore(store))
	}
	return inference.NewEngine(comp, c.Inference, opts...)
}

// WalkOptions converts the graph section for graph.Walk.
func (c *ProjectConfig) WalkOptions(logger *slog.Logger) graph.WalkOptions {
	opts := graph.WalkOptions{ExcludeDirs: c.Graph.ExcludeDirs, Logger: logger}
	for _, l := range c.Graph.Languages {
		opts.Languages = append(opts.Languages, graph.Language(l))
	}
	return opts
}

// OpenGraphStore opens the kuzu database at graph.dbPath, or an in-memory
// store when no path is set.
func (c *ProjectConfig) OpenGraphStore() (graph.Store, error) {
	if c.Graph.DBPath == "" {
		return graph.NewMemStore(), nil
	}
	store, err := graph.NewKuzuFileStore(Resolve(c.Dir(), c.Graph.DBPath))
	if err != nil {
		return nil, err
	}
	return store, nil
}
