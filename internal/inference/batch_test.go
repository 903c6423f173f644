package inference

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegnn/internal/graph"
)

func TestBatchProcessor_Chunks(t *testing.T) {
	var events []ProgressEvent
	p := NewBatchProcessor(testEngine(t, DefaultConfig()), 2, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	var graphs []*graph.CodeGraph
	for i := range 5 {
		graphs = append(graphs, chainGraph(fmt.Sprintf("f%d.go", i), i+1))
	}
	res, err := p.Process(context.Background(), graphs)
	require.NoError(t, err)
	require.Len(t, res, 5)
	for i, r := range res {
		assert.Equal(t, graphs[i].FilePath, r.FilePath)
	}

	require.Len(t, events, 6)
	assert.Equal(t, ProgressEvent{Batch: 0, Status: ProgressWorking, Done: 0, Total: 5}, events[0])
	assert.Equal(t, ProgressEvent{Batch: 2, Status: ProgressComplete, Done: 5, Total: 5}, events[5])
}

func TestBatchProcessor_FailureStops(t *testing.T) {
	var last ProgressEvent
	p := NewBatchProcessor(testEngine(t, DefaultConfig()), 2, func(ev ProgressEvent) { last = ev })
	graphs := []*graph.CodeGraph{chainGraph("a.go", 1), chainGraph("b.go", 2), nil, chainGraph("d.go", 4)}

	res, err := p.Process(context.Background(), graphs)
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, ProgressFailed, last.Status)
	assert.Equal(t, 1, last.Batch)
}

func TestBatchProcessor_DefaultSize(t *testing.T) {
	e := testEngine(t, Config{UseCache: true, BatchSize: 7})
	assert.Equal(t, 7, NewBatchProcessor(e, 0, nil).BatchSize())
	assert.Equal(t, 16, NewBatchProcessor(testEngine(t, Config{}), 0, nil).BatchSize())

	res, err := NewBatchProcessor(e, 0, nil).Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "  ● batch 1... 2/8", FormatProgress(ProgressEvent{Batch: 1, Status: ProgressWorking, Done: 2, Total: 8}))
	assert.Equal(t, "  ✓ batch 1 complete 4/8", FormatProgress(ProgressEvent{Batch: 1, Status: ProgressComplete, Done: 4, Total: 8}))
	assert.Equal(t, "  ✗ batch 2 failed: boom", FormatProgress(ProgressEvent{Batch: 2, Status: ProgressFailed, Message: "boom"}))
	assert.Equal(t, "  ? batch 0 (unknown status)", FormatProgress(ProgressEvent{Status: "odd"}))
}
