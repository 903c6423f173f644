package inference

import (
	"context"
	"errors"
	"sync"

	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/tensor"
)

// ErrEmptyWindow is returned when a window embedding is requested from an
// empty stream.
var ErrEmptyWindow = errors.New("no results in window")

// Stream keeps the last WindowSize results of a sequence of inferences.
type Stream struct {
	engine     *Engine
	windowSize int

	mu     sync.Mutex
	window []*Result
}

// NewStream returns a Stream over engine. windowSize must be positive.
func NewStream(engine *Engine, windowSize int) *Stream {
	if windowSize <= 0 {
		panic("inference: stream window size must be positive")
	}
	return &Stream{engine: engine, windowSize: windowSize}
}

// WindowSize is the window capacity.
func (s *Stream) WindowSize() int { return s.windowSize }

// Process infers g and pushes the result into the window, evicting the
// oldest result when full.
func (s *Stream) Process(ctx context.Context, g *graph.CodeGraph) (*Result, error) {
	res, err := s.engine.Infer(ctx, g)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, res)
	if over := len(s.window) - s.windowSize; over > 0 {
		s.window = append(s.window[:0:0], s.window[over:]...)
	}
	return res, nil
}

// WindowEmbedding is the mean embedding of the results in the window,
// recomputed on every call.
func (s *Stream) WindowEmbedding() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return nil, ErrEmptyWindow
	}
	vectors := make([][]float32, len(s.window))
	for i, r := range s.window {
		vectors[i] = r.Embedding
	}
	return tensor.MeanOf(vectors...), nil
}

// Results returns the window contents, oldest first.
func (s *Stream) Results() []*Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Result(nil), s.window...)
}

// Len returns the number of results in the window.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.window)
}

// Clear empties the window.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.window = nil
	s.mu.Unlock()
}
