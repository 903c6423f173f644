package training

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegnn/internal/gnn"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Temperature = 1
	cfg.Epochs = 3
	cfg.BatchSize = 2
	return cfg
}

func testModel(t *testing.T) *gnn.Model {
	t.Helper()
	m, err := gnn.New(gnn.KindSAGE, gnn.Config{
		InputDim:    3,
		HiddenDims:  []int{4},
		OutputDim:   4,
		NumHeads:    1,
		Aggregation: gnn.AggregateMean,
	}, tensor.NewRand(7))
	require.NoError(t, err)
	return m
}

// pathGraph returns n nodes linked 0→1→…→n-1 with features scaled by base.
func pathGraph(n int, base float32) gnn.BatchGraph {
	g := gnn.BatchGraph{
		Features:  make(map[int]*tensor.Tensor, n),
		Adjacency: make(gnn.Adjacency, n),
		Size:      n,
	}
	for i := range n {
		g.Features[i] = tensor.Vector([]float32{base, float32(i), 1})
		if i+1 < n {
			g.Adjacency[i] = []int{i + 1}
		}
	}
	return g
}

func triplets(n int) []Triplet {
	out := make([]Triplet, n)
	for i := range out {
		out[i] = Triplet{
			Anchor:   pathGraph(3, 1),
			Positive: pathGraph(3, 1.1),
			Negative: pathGraph(2, -1),
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero temperature", func(c *Config) { c.Temperature = 0 }},
		{"negative margin", func(c *Config) { c.Margin = -1 }},
		{"negative decay", func(c *Config) { c.WeightDecay = -0.1 }},
		{"unknown loss", func(c *Config) { c.Loss = "hinge" }},
		{"unknown schedule", func(c *Config) { c.Schedule.Kind = "linear" }},
		{"step without size", func(c *Config) { c.Schedule = Schedule{Kind: ScheduleStep, Gamma: 0.5} }},
		{"exponential gamma", func(c *Config) { c.Schedule = Schedule{Kind: ScheduleExponential, Gamma: 1.5} }},
		{"cosine eta above lr", func(c *Config) { c.Schedule = Schedule{Kind: ScheduleCosine, TMax: 10, EtaMin: 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewTrainer_PanicsOnInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs = 0
	assert.Panics(t, func() { NewTrainer(cfg) })
}

// ---------------------------------------------------------------------------
// Losses
// ---------------------------------------------------------------------------

func TestContrastiveLoss(t *testing.T) {
	tr := NewTrainer(testConfig())

	loss, err := tr.ContrastiveLoss(
		[][]float32{{1, 0}},
		[][]float32{{1, 0}},
		[][]float32{{0, 1}},
	)
	require.NoError(t, err)
	want := math.Log(1 + math.Exp(-1))
	assert.InDelta(t, want, loss, 1e-5)

	t.Run("no negatives", func(t *testing.T) {
		loss, err := tr.ContrastiveLoss([][]float32{{1, 0}}, [][]float32{{0, 1}}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 0, loss, 1e-6)
	})

	t.Run("closer positive lowers loss", func(t *testing.T) {
		near, err := tr.ContrastiveLoss([][]float32{{1, 0}}, [][]float32{{1, 0.1}}, [][]float32{{-1, 0}})
		require.NoError(t, err)
		far, err := tr.ContrastiveLoss([][]float32{{1, 0}}, [][]float32{{0, 1}}, [][]float32{{-1, 0}})
		require.NoError(t, err)
		assert.Less(t, near, far)
	})

	t.Run("temperature sharpens", func(t *testing.T) {
		cfg := testConfig()
		cfg.Temperature = 0.07
		cold := NewTrainer(cfg)
		loss, err := cold.ContrastiveLoss([][]float32{{1, 0}}, [][]float32{{1, 0}}, [][]float32{{0, 1}})
		require.NoError(t, err)
		assert.Less(t, loss, float32(1e-5))
	})

	t.Run("errors", func(t *testing.T) {
		_, err := tr.ContrastiveLoss(nil, nil, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)

		_, err = tr.ContrastiveLoss([][]float32{{1}}, nil, nil)
		assert.ErrorIs(t, err, ErrBatchMismatch)

		_, err = tr.ContrastiveLoss([][]float32{{1, 0}}, [][]float32{{1}}, nil)
		assert.ErrorIs(t, err, ErrBatchMismatch)
	})
}

func TestTripletLoss(t *testing.T) {
	tr := NewTrainer(testConfig())

	loss, err := tr.TripletLoss(
		[][]float32{{0, 0}},
		[][]float32{{1, 0}},
		[][]float32{{3, 0}},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0, loss, 1e-6, "negative beyond the margin")

	loss, err = tr.TripletLoss(
		[][]float32{{0, 0}, {0, 0}},
		[][]float32{{1, 0}, {1, 0}},
		[][]float32{{1, 1}, {3, 0}},
	)
	require.NoError(t, err)
	want := (2 - math.Sqrt2) / 2
	assert.InDelta(t, want, loss, 1e-5)

	_, err = tr.TripletLoss([][]float32{{0}}, [][]float32{{0}}, nil)
	assert.ErrorIs(t, err, ErrBatchMismatch)
}

func TestTrainer_LossDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.Loss = LossTriplet
	tr := NewTrainer(cfg)

	a, p, n := [][]float32{{0, 0}}, [][]float32{{1, 0}}, [][]float32{{1, 1}}
	got, err := tr.Loss(a, p, n)
	require.NoError(t, err)
	want, err := tr.TripletLoss(a, p, n)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTrainer_Penalty(t *testing.T) {
	m := testModel(t)

	cfg := testConfig()
	cfg.WeightDecay = 0
	assert.Zero(t, NewTrainer(cfg).Penalty(m))

	cfg.WeightDecay = 0.01
	assert.Greater(t, NewTrainer(cfg).Penalty(m), float32(0))
}

// ---------------------------------------------------------------------------
// TrainStep and Fit
// ---------------------------------------------------------------------------

func TestTrainStep(t *testing.T) {
	tr := NewTrainer(testConfig())
	m := testModel(t)
	before := m.Fingerprint()

	data := triplets(2)
	a, p, n := batches(data)
	loss, err := tr.TrainStep(m, a, p, n)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loss, float32(0))
	assert.False(t, math.IsNaN(float64(loss)))
	assert.Equal(t, before, m.Fingerprint(), "forward path must not touch weights")

	_, err = tr.TrainStep(m, nil, p, n)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestFit(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = Schedule{Kind: ScheduleStep, StepSize: 1, Gamma: 0.5}
	tr := NewTrainer(cfg)
	m := testModel(t)

	history, err := tr.Fit(context.Background(), m, triplets(5))
	require.NoError(t, err)
	require.Len(t, history, 3)

	for i, s := range history {
		assert.Equal(t, i, s.Epoch)
		assert.Equal(t, 5, s.Examples)
		assert.Greater(t, s.Penalty, float32(0))
	}
	assert.InDelta(t, 0.001, history[0].LearningRate, 1e-9)
	assert.InDelta(t, 0.0005, history[1].LearningRate, 1e-9)
	assert.InDelta(t, 0.00025, history[2].LearningRate, 1e-9)

	// Weights never change, so every epoch sees the same loss.
	assert.Equal(t, history[0].Loss, history[2].Loss)

	t.Run("history continues across calls", func(t *testing.T) {
		history, err := tr.Fit(context.Background(), m, triplets(1))
		require.NoError(t, err)
		require.Len(t, history, 6)
		assert.Equal(t, 5, history[5].Epoch)
	})
}

func TestFit_Errors(t *testing.T) {
	tr := NewTrainer(testConfig())
	m := testModel(t)

	_, err := tr.Fit(context.Background(), m, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Fit(ctx, m, triplets(2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.History())
}
