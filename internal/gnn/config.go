// Package gnn implements the message-passing model that turns a code graph
// into a fixed-size embedding: GraphSAGE and GAT layers, pooling, and the
// model assembly with its persistence formats.
package gnn

import (
	"errors"
	"fmt"
)

// Aggregation selects how SAGE layers reduce neighbor features.
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateSum  Aggregation = "sum"
	AggregateMax  Aggregation = "max"
)

// HeadMerge selects how GAT heads are combined.
type HeadMerge string

const (
	HeadConcat  HeadMerge = "concat"
	HeadAverage HeadMerge = "average"
)

// Kind names the layer family a model is built from.
type Kind string

const (
	KindSAGE   Kind = "sage"
	KindGAT    Kind = "gat"
	KindHybrid Kind = "hybrid"
)

// Config fully determines a model's architecture. It is never mutated
// after a model has been built from it.
//
// Dropout is carried for training consumers; inference forward passes do
// not apply it.
type Config struct {
	InputDim            int         `json:"input_dim" yaml:"inputDim"`
	HiddenDims          []int       `json:"hidden_dims" yaml:"hiddenDims"`
	OutputDim           int         `json:"output_dim" yaml:"outputDim"`
	NumHeads            int         `json:"num_heads" yaml:"numHeads"`
	Dropout             float32     `json:"dropout" yaml:"dropout"`
	UseAttentionPooling bool        `json:"use_attention_pooling" yaml:"useAttentionPooling"`
	Aggregation         Aggregation `json:"aggregation" yaml:"aggregation"`
	HeadMerge           HeadMerge   `json:"head_merge,omitempty" yaml:"headMerge,omitempty"`
}

// DefaultConfig returns the 128 → [256, 256] → 512 architecture.
func DefaultConfig() Config {
	return Config{
		InputDim:            128,
		HiddenDims:          []int{256, 256},
		OutputDim:           512,
		NumHeads:            4,
		Dropout:             0.1,
		UseAttentionPooling: true,
		Aggregation:         AggregateMean,
		HeadMerge:           HeadConcat,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid gnn config")

// Validate reports configuration errors that would make a constructor panic.
func (c Config) Validate() error {
	if c.InputDim <= 0 {
		return fmt.Errorf("%w: input_dim must be positive, got %d", ErrInvalidConfig, c.InputDim)
	}
	if len(c.HiddenDims) == 0 {
		return fmt.Errorf("%w: hidden_dims must name at least one layer", ErrInvalidConfig)
	}
	for i, d := range c.HiddenDims {
		if d <= 0 {
			return fmt.Errorf("%w: hidden_dims[%d] must be positive, got %d", ErrInvalidConfig, i, d)
		}
	}
	if c.OutputDim <= 0 {
		return fmt.Errorf("%w: output_dim must be positive, got %d", ErrInvalidConfig, c.OutputDim)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("%w: num_heads must be positive, got %d", ErrInvalidConfig, c.NumHeads)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.Dropout)
	}
	switch c.aggregation() {
	case AggregateMean, AggregateSum, AggregateMax:
	default:
		return fmt.Errorf("%w: unknown aggregation %q", ErrInvalidConfig, c.Aggregation)
	}
	switch c.headMerge() {
	case HeadConcat, HeadAverage:
	default:
		return fmt.Errorf("%w: unknown head merge %q", ErrInvalidConfig, c.HeadMerge)
	}
	return nil
}

func (c Config) aggregation() Aggregation {
	if c.Aggregation == "" {
		return AggregateMean
	}
	return c.Aggregation
}

func (c Config) headMerge() HeadMerge {
	if c.HeadMerge == "" {
		return HeadConcat
	}
	return c.HeadMerge
}

func (c Config) mustValidate() {
	if err := c.Validate(); err != nil {
		panic("gnn: " + err.Error())
	}
}
