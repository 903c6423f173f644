package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func lrs(s *Scheduler, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = s.LR()
		s.Step()
	}
	return out
}

func TestScheduler(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		want     []float32
	}{
		{"constant", Schedule{Kind: ScheduleConstant}, []float32{1, 1, 1}},
		{"empty kind is constant", Schedule{}, []float32{1, 1}},
		{"step", Schedule{Kind: ScheduleStep, StepSize: 2, Gamma: 0.5}, []float32{1, 1, 0.5, 0.5, 0.25}},
		{"exponential", Schedule{Kind: ScheduleExponential, Gamma: 0.5}, []float32{1, 0.5, 0.25, 0.125}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lrs(NewScheduler(1, tt.schedule), len(tt.want))
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

func TestScheduler_Cosine(t *testing.T) {
	s := NewScheduler(1, Schedule{Kind: ScheduleCosine, TMax: 10, EtaMin: 0.1})
	got := lrs(s, 16)

	assert.InDelta(t, 1, got[0], 1e-6)
	assert.InDelta(t, 0.55, got[5], 1e-6)
	assert.InDelta(t, 0.1, got[10], 1e-6)
	assert.InDelta(t, 0.1, got[15], 1e-6, "rate holds at eta_min past t_max")
	for i := 1; i <= 10; i++ {
		assert.LessOrEqual(t, got[i], got[i-1])
	}
	assert.Equal(t, 16, s.Epoch())
}
