package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegnn/internal/tensor"
)

func TestStream_Window(t *testing.T) {
	s := NewStream(testEngine(t, DefaultConfig()), 2)
	ctx := context.Background()

	_, err := s.WindowEmbedding()
	assert.ErrorIs(t, err, ErrEmptyWindow)

	var results []*Result
	for i, n := range []int{2, 5, 9} {
		res, err := s.Process(ctx, chainGraph("f.go", n))
		require.NoError(t, err, "graph %d", i)
		results = append(results, res)
	}
	assert.Equal(t, 2, s.Len())
	window := s.Results()
	assert.Equal(t, results[1].ID, window[0].ID)
	assert.Equal(t, results[2].ID, window[1].ID)

	got, err := s.WindowEmbedding()
	require.NoError(t, err)
	want := tensor.MeanOf(results[1].Embedding, results[2].Embedding)
	assert.InDeltaSlice(t, want, got, 1e-6)

	s.Clear()
	assert.Zero(t, s.Len())
	_, err = s.WindowEmbedding()
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestStream_ProcessErrorLeavesWindow(t *testing.T) {
	s := NewStream(testEngine(t, DefaultConfig()), 3)
	_, err := s.Process(context.Background(), chainGraph("a.go", 2))
	require.NoError(t, err)
	_, err = s.Process(context.Background(), nil)
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestNewStream_RejectsZeroWindow(t *testing.T) {
	e := testEngine(t, DefaultConfig())
	assert.Panics(t, func() { NewStream(e, 0) })
	assert.Equal(t, 4, NewStream(e, 4).WindowSize())
}
