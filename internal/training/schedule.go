package training

import (
	"fmt"
	"math"
)

// ScheduleKind names a learning-rate schedule.
type ScheduleKind string

const (
	ScheduleConstant    ScheduleKind = "constant"
	ScheduleStep        ScheduleKind = "step"
	ScheduleExponential ScheduleKind = "exponential"
	ScheduleCosine      ScheduleKind = "cosine"
)

// Schedule parameterizes a learning-rate schedule. StepSize and Gamma
// drive the step schedule, Gamma alone the exponential one, TMax and
// EtaMin the cosine annealing.
type Schedule struct {
	Kind     ScheduleKind `json:"kind" yaml:"kind"`
	StepSize int          `json:"step_size,omitempty" yaml:"stepSize,omitempty"`
	Gamma    float32      `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	TMax     int          `json:"t_max,omitempty" yaml:"tMax,omitempty"`
	EtaMin   float32      `json:"eta_min,omitempty" yaml:"etaMin,omitempty"`
}

func (s Schedule) kind() ScheduleKind {
	if s.Kind == "" {
		return ScheduleConstant
	}
	return s.Kind
}

func (s Schedule) validate(initial float32) error {
	switch s.kind() {
	case ScheduleConstant:
	case ScheduleStep:
		if s.StepSize <= 0 {
			return fmt.Errorf("%w: step schedule needs a positive step_size, got %d", ErrInvalidConfig, s.StepSize)
		}
		if s.Gamma <= 0 || s.Gamma > 1 {
			return fmt.Errorf("%w: gamma must be in (0, 1], got %g", ErrInvalidConfig, s.Gamma)
		}
	case ScheduleExponential:
		if s.Gamma <= 0 || s.Gamma > 1 {
			return fmt.Errorf("%w: gamma must be in (0, 1], got %g", ErrInvalidConfig, s.Gamma)
		}
	case ScheduleCosine:
		if s.TMax <= 0 {
			return fmt.Errorf("%w: cosine schedule needs a positive t_max, got %d", ErrInvalidConfig, s.TMax)
		}
		if s.EtaMin < 0 || s.EtaMin > initial {
			return fmt.Errorf("%w: eta_min must be in [0, %g], got %g", ErrInvalidConfig, initial, s.EtaMin)
		}
	default:
		return fmt.Errorf("%w: unknown schedule %q", ErrInvalidConfig, s.Kind)
	}
	return nil
}

// Scheduler yields the learning rate for the current epoch.
type Scheduler struct {
	initial  float32
	schedule Schedule
	epoch    int
}

// NewScheduler starts a schedule at epoch 0.
func NewScheduler(initial float32, s Schedule) *Scheduler {
	return &Scheduler{initial: initial, schedule: s}
}

// Epoch returns the number of completed steps.
func (s *Scheduler) Epoch() int { return s.epoch }

// Step advances one epoch.
func (s *Scheduler) Step() { s.epoch++ }

// LR returns the learning rate for the current epoch.
func (s *Scheduler) LR() float32 {
	sc := s.schedule
	switch sc.kind() {
	case ScheduleStep:
		return s.initial * pow(sc.Gamma, s.epoch/sc.StepSize)
	case ScheduleExponential:
		return s.initial * pow(sc.Gamma, s.epoch)
	case ScheduleCosine:
		// Past TMax the rate stays at EtaMin instead of rising again.
		t := min(s.epoch, sc.TMax)
		cos := math.Cos(math.Pi * float64(t) / float64(sc.TMax))
		return sc.EtaMin + (s.initial-sc.EtaMin)*float32(1+cos)/2
	default:
		return s.initial
	}
}

func pow(base float32, exp int) float32 {
	return float32(math.Pow(float64(base), float64(exp)))
}
