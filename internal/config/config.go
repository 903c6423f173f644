// Package config loads project settings from codegnn.yml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/embedstore"
	"github.com/dusk-indust/codegnn/internal/features"
	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/inference"
	"github.com/dusk-indust/codegnn/internal/telemetry"
	"github.com/dusk-indust/codegnn/internal/training"
)

// FileNames are the config file names Load looks for, in order.
var FileNames = []string{"codegnn.yml", "codegnn.yaml"}

// ModelConfig selects the architecture, or a saved model to load instead.
type ModelConfig struct {
	Kind gnn.Kind `yaml:"kind"`
	// Seed drives weight initialisation, so equal seeds give equal models.
	Seed uint64 `yaml:"seed"`
	// Path is a saved model file. When set, it wins over the architecture
	// fields below.
	Path       string `yaml:"path,omitempty"`
	gnn.Config `yaml:",inline"`
}

// GraphConfig controls source parsing and graph storage.
type GraphConfig struct {
	Languages   []string `yaml:"languages,omitempty"`
	ExcludeDirs []string `yaml:"excludeDirs,omitempty"`
	// DBPath is a kuzu database directory for parsed graphs. Empty keeps
	// graphs in memory.
	DBPath string `yaml:"dbPath,omitempty"`
}

// StoreConfig enables the persistent embedding store.
type StoreConfig struct {
	Enabled           bool `yaml:"enabled"`
	embedstore.Config `yaml:",inline"`
}

// ServerConfig configures `codegnn serve`.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Version string `yaml:"version,omitempty"`
	// MaxRequestBytes caps JSON-RPC request bodies. Zero keeps the
	// server default.
	MaxRequestBytes int64 `yaml:"maxRequestBytes,omitempty"`
}

// ProjectConfig holds every project-level setting.
type ProjectConfig struct {
	Verbose   bool               `yaml:"verbose,omitempty"`
	Graph     GraphConfig        `yaml:"graph"`
	Model     ModelConfig        `yaml:"model"`
	Features  features.Config    `yaml:"features"`
	Compress  compress.Config    `yaml:"compress"`
	Inference inference.Config   `yaml:"inference"`
	Store     StoreConfig        `yaml:"store"`
	Training  training.Config    `yaml:"training"`
	Augment   training.Augmentor `yaml:"augment"`
	Telemetry telemetry.Config   `yaml:"telemetry"`
	Server    ServerConfig       `yaml:"server"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *ProjectConfig {
	return &ProjectConfig{
		Graph: GraphConfig{
			ExcludeDirs: []string{"vendor", "node_modules", "target", ".codegnn"},
		},
		Model: ModelConfig{
			Kind:   gnn.KindSAGE,
			Seed:   42,
			Config: gnn.DefaultConfig(),
		},
		Features:  features.DefaultConfig(),
		Compress:  compress.DefaultConfig(),
		Inference: inference.DefaultConfig(),
		Store: StoreConfig{
			Config: embedstore.Config{
				Path:           filepath.Join(".codegnn", "embeddings"),
				GCInterval:     embedstore.DefaultConfig().GCInterval,
				GCDiscardRatio: embedstore.DefaultConfig().GCDiscardRatio,
			},
		},
		Training: training.DefaultConfig(),
		Augment: training.Augmentor{
			DropEdgeProb:    0.1,
			FeatureNoiseStd: 0.05,
		},
		Telemetry: telemetry.DefaultConfig(),
		Server:    ServerConfig{Addr: ":8080"},
	}
}

// Load reads codegnn.yml or codegnn.yaml from dir over the defaults.
// A missing file yields the defaults, not an error.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg.Path = path
		return cfg, nil
	}
	return Default(), nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*ProjectConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and the widths that must agree across
// sections.
func (c *ProjectConfig) Validate() error {
	switch c.Model.Kind {
	case gnn.KindSAGE, gnn.KindGAT, gnn.KindHybrid:
	default:
		return fmt.Errorf("model: unknown kind %q", c.Model.Kind)
	}
	if c.Model.Path == "" {
		if err := c.Model.Config.Validate(); err != nil {
			return fmt.Errorf("model: %w", err)
		}
		if c.Features.Dim != c.Model.InputDim {
			return fmt.Errorf("features.dim %d must equal model.inputDim %d", c.Features.Dim, c.Model.InputDim)
		}
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if c.Compress.MaxNeighbors < 0 {
		return fmt.Errorf("compress: maxNeighbors must not be negative, got %d", c.Compress.MaxNeighbors)
	}
	if err := c.Inference.Validate(); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	if c.Store.Enabled && !c.Store.InMemory && c.Store.Path == "" {
		return errors.New("store: path is required when the store is enabled")
	}
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if c.Augment.DropEdgeProb < 0 || c.Augment.DropEdgeProb > 1 {
		return fmt.Errorf("augment: dropEdgeProb must be in [0, 1], got %g", c.Augment.DropEdgeProb)
	}
	if c.Augment.FeatureNoiseStd < 0 {
		return fmt.Errorf("augment: featureNoiseStd must not be negative, got %g", c.Augment.FeatureNoiseStd)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Resolve returns p relative to the project directory dir unless p is
// absolute or empty.
func Resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Write stores cfg as codegnn.yml in dir.
func Write(dir string, cfg *ProjectConfig) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(dir, FileNames[0])
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
