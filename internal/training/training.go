// Package training drives the forward path of a GNN model over contrastive
// examples and reports the loss per epoch. It never updates weights:
// gradients and the optimizer live outside this module.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// LossType selects the objective computed by a Trainer.
type LossType string

const (
	// LossInfoNCE scores each anchor against its positive and every
	// negative in the batch at the configured temperature.
	LossInfoNCE LossType = "infonce"
	// LossContrastive is an alias of LossInfoNCE kept for configuration
	// files that name the objective generically.
	LossContrastive LossType = "contrastive"
	// LossTriplet is max(0, d(a,p) - d(a,n) + margin), averaged.
	LossTriplet LossType = "triplet"
)

var (
	// ErrInvalidConfig is wrapped by every Validate failure.
	ErrInvalidConfig = errors.New("invalid training config")
	// ErrEmptyBatch is returned when a loss or a fit receives no examples.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrBatchMismatch reports anchor, positive and negative sets of
	// different lengths or vector widths.
	ErrBatchMismatch = errors.New("batch mismatch")
)

// Config holds the training hyperparameters.
type Config struct {
	LearningRate float32  `json:"learning_rate" yaml:"learningRate"`
	Epochs       int      `json:"epochs" yaml:"epochs"`
	BatchSize    int      `json:"batch_size" yaml:"batchSize"`
	Temperature  float32  `json:"temperature" yaml:"temperature"`
	Margin       float32  `json:"margin" yaml:"margin"`
	WeightDecay  float32  `json:"weight_decay" yaml:"weightDecay"`
	Loss         LossType `json:"loss" yaml:"loss"`
	Schedule     Schedule `json:"schedule" yaml:"schedule"`
}

// DefaultConfig returns InfoNCE at temperature 0.07 with a constant
// learning rate of 0.001 for 100 epochs.
func DefaultConfig() Config {
	return Config{
		LearningRate: 0.001,
		Epochs:       100,
		BatchSize:    32,
		Temperature:  0.07,
		Margin:       1.0,
		WeightDecay:  0.0001,
		Loss:         LossInfoNCE,
		Schedule:     Schedule{Kind: ScheduleConstant},
	}
}

// Validate reports configuration errors that would make NewTrainer panic.
func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("%w: temperature must be positive, got %g", ErrInvalidConfig, c.Temperature)
	}
	if c.Margin < 0 {
		return fmt.Errorf("%w: margin must not be negative, got %g", ErrInvalidConfig, c.Margin)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("%w: weight_decay must not be negative, got %g", ErrInvalidConfig, c.WeightDecay)
	}
	switch c.loss() {
	case LossInfoNCE, LossContrastive, LossTriplet:
	default:
		return fmt.Errorf("%w: unknown loss %q", ErrInvalidConfig, c.Loss)
	}
	return c.Schedule.validate(c.LearningRate)
}

func (c Config) loss() LossType {
	if c.Loss == "" {
		return LossInfoNCE
	}
	return c.Loss
}

// Stats is the record of one epoch.
type Stats struct {
	Epoch        int     `json:"epoch"`
	Loss         float32 `json:"loss"`
	Penalty      float32 `json:"penalty"`
	LearningRate float32 `json:"learning_rate"`
	Examples     int     `json:"examples"`
}

// Triplet is one training example: an anchor graph, a view of the same
// code, and a view of different code.
type Triplet struct {
	Anchor   gnn.BatchGraph
	Positive gnn.BatchGraph
	Negative gnn.BatchGraph
}

// Trainer evaluates the configured loss over batches and keeps the
// per-epoch history. A Trainer is not safe for concurrent use.
type Trainer struct {
	cfg       Config
	scheduler *Scheduler
	history   []Stats
	logger    *slog.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger used for per-epoch progress.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// NewTrainer returns a Trainer for cfg. It panics when cfg is invalid;
// call Config.Validate first for untrusted input.
func NewTrainer(cfg Config, opts ...Option) *Trainer {
	if err := cfg.Validate(); err != nil {
		panic("training: " + err.Error())
	}
	t := &Trainer{
		cfg:       cfg,
		scheduler: NewScheduler(cfg.LearningRate, cfg.Schedule),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Config returns the trainer's configuration.
func (t *Trainer) Config() Config { return t.cfg }

// LearningRate returns the scheduled rate for the current epoch.
func (t *Trainer) LearningRate() float32 { return t.scheduler.LR() }

// History returns a copy of the recorded epochs.
func (t *Trainer) History() []Stats { return slices.Clone(t.history) }

// RecordStats appends an epoch record at the current learning rate.
func (t *Trainer) RecordStats(epoch int, loss, penalty float32, examples int) Stats {
	s := Stats{
		Epoch:        epoch,
		Loss:         loss,
		Penalty:      penalty,
		LearningRate: t.scheduler.LR(),
		Examples:     examples,
	}
	t.history = append(t.history, s)
	return s
}

// Loss dispatches to the configured objective.
func (t *Trainer) Loss(anchors, positives, negatives [][]float32) (float32, error) {
	if t.cfg.loss() == LossTriplet {
		return t.TripletLoss(anchors, positives, negatives)
	}
	return t.ContrastiveLoss(anchors, positives, negatives)
}

// ContrastiveLoss is the InfoNCE objective. Anchor i is paired with
// positive i; every negative is a candidate for every anchor. Similarities
// are cosine and divided by the temperature.
func (t *Trainer) ContrastiveLoss(anchors, positives, negatives [][]float32) (float32, error) {
	if len(anchors) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(anchors) != len(positives) {
		return 0, fmt.Errorf("%w: %d anchors, %d positives", ErrBatchMismatch, len(anchors), len(positives))
	}
	if err := sameWidth(anchors, positives, negatives); err != nil {
		return 0, err
	}

	temp := float64(t.cfg.Temperature)
	logits := make([]float64, 0, 1+len(negatives))
	var total float64
	for i, a := range anchors {
		logits = logits[:0]
		pos := float64(tensor.CosineSimilarity(a, positives[i])) / temp
		logits = append(logits, pos)
		for _, n := range negatives {
			logits = append(logits, float64(tensor.CosineSimilarity(a, n))/temp)
		}
		total += logSumExp(logits) - pos
	}
	return float32(total / float64(len(anchors))), nil
}

// TripletLoss averages max(0, |a-p| - |a-n| + margin) over aligned
// triplets.
func (t *Trainer) TripletLoss(anchors, positives, negatives [][]float32) (float32, error) {
	if len(anchors) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(anchors) != len(positives) || len(anchors) != len(negatives) {
		return 0, fmt.Errorf("%w: %d anchors, %d positives, %d negatives",
			ErrBatchMismatch, len(anchors), len(positives), len(negatives))
	}
	if err := sameWidth(anchors, positives, negatives); err != nil {
		return 0, err
	}

	var total float64
	for i, a := range anchors {
		d := tensor.EuclideanDistance(a, positives[i]) - tensor.EuclideanDistance(a, negatives[i]) + t.cfg.Margin
		total += float64(max(d, 0))
	}
	return float32(total / float64(len(anchors))), nil
}

// Penalty is the L2 weight-decay term 0.5·λ·Σθ² over every model
// parameter.
func (t *Trainer) Penalty(model *gnn.Model) float32 {
	if t.cfg.WeightDecay == 0 {
		return 0
	}
	var sq float64
	for _, p := range model.Params() {
		for _, v := range p.Data {
			sq += float64(v) * float64(v)
		}
	}
	return float32(0.5 * float64(t.cfg.WeightDecay) * sq)
}

// TrainStep embeds the three batches and returns the loss. The model is
// not modified.
func (t *Trainer) TrainStep(model *gnn.Model, anchor, positive, negative *gnn.GraphBatch) (float32, error) {
	if anchor == nil || positive == nil || negative == nil {
		return 0, fmt.Errorf("training: %w: nil batch", ErrEmptyBatch)
	}
	a := vectors(model.ForwardBatch(anchor))
	p := vectors(model.ForwardBatch(positive))
	n := vectors(model.ForwardBatch(negative))
	return t.Loss(a, p, n)
}

// Fit runs the configured number of epochs over data in batches of
// BatchSize, stepping the learning-rate schedule after each epoch. It
// returns the full history, including epochs from earlier calls.
func (t *Trainer) Fit(ctx context.Context, model *gnn.Model, data []Triplet) ([]Stats, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("training: %w", ErrEmptyBatch)
	}
	if model == nil {
		return nil, errors.New("training: nil model")
	}

	for epoch := range t.cfg.Epochs {
		var sum float64
		for start := 0; start < len(data); start += t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return t.History(), err
			}
			end := min(start+t.cfg.BatchSize, len(data))
			anchor, positive, negative := batches(data[start:end])
			loss, err := t.TrainStep(model, anchor, positive, negative)
			if err != nil {
				return t.History(), fmt.Errorf("training: epoch %d batch at %d: %w", epoch, start, err)
			}
			sum += float64(loss) * float64(end-start)
		}

		s := t.RecordStats(t.scheduler.Epoch(), float32(sum/float64(len(data))), t.Penalty(model), len(data))
		t.logger.Debug("epoch complete",
			slog.Int("epoch", s.Epoch),
			slog.Float64("loss", float64(s.Loss)),
			slog.Float64("lr", float64(s.LearningRate)),
		)
		t.scheduler.Step()
	}
	return t.History(), nil
}

func batches(data []Triplet) (anchor, positive, negative *gnn.GraphBatch) {
	a := make([]gnn.BatchGraph, len(data))
	p := make([]gnn.BatchGraph, len(data))
	n := make([]gnn.BatchGraph, len(data))
	for i, tr := range data {
		a[i], p[i], n[i] = tr.Anchor, tr.Positive, tr.Negative
	}
	return gnn.NewGraphBatch(a...), gnn.NewGraphBatch(p...), gnn.NewGraphBatch(n...)
}

func vectors(ts []*tensor.Tensor) [][]float32 {
	out := make([][]float32, len(ts))
	for i, t := range ts {
		out[i] = t.Data
	}
	return out
}

func sameWidth(sets ...[][]float32) error {
	width := -1
	for _, set := range sets {
		for _, v := range set {
			if width < 0 {
				width = len(v)
				continue
			}
			if len(v) != width {
				return fmt.Errorf("%w: vector widths %d and %d", ErrBatchMismatch, width, len(v))
			}
		}
	}
	return nil
}

func logSumExp(xs []float64) float64 {
	m := slices.Max(xs)
	var s float64
	for _, x := range xs {
		s += math.Exp(x - m)
	}
	return m + math.Log(s)
}
