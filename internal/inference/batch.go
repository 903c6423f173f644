package inference

import (
	"context"
	"fmt"

	"github.com/dusk-indust/codegnn/internal/graph"
)

// ProgressStatus is the state of a batch.
type ProgressStatus string

const (
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)

// ProgressEvent reports the state of one batch of a BatchProcessor run.
type ProgressEvent struct {
	Batch   int
	Status  ProgressStatus
	Done    int // graphs finished so far, across batches
	Total   int
	Message string
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case ProgressWorking:
		return fmt.Sprintf("  ● batch %d... %d/%d", event.Batch, event.Done, event.Total)
	case ProgressComplete:
		return fmt.Sprintf("  ✓ batch %d complete %d/%d", event.Batch, event.Done, event.Total)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ batch %d failed: %s", event.Batch, event.Message)
	default:
		return fmt.Sprintf("  ? batch %d (unknown status)", event.Batch)
	}
}

// BatchProcessor feeds graphs to an engine in fixed-size chunks.
type BatchProcessor struct {
	engine     *Engine
	batchSize  int
	onProgress func(ProgressEvent)
}

// NewBatchProcessor creates a BatchProcessor. A batchSize of zero uses the
// engine's configured batch size. onProgress is called synchronously and
// may be nil.
func NewBatchProcessor(engine *Engine, batchSize int, onProgress func(ProgressEvent)) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = engine.Config().BatchSize
	}
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}
	return &BatchProcessor{engine: engine, batchSize: batchSize, onProgress: onProgress}
}

// BatchSize is the chunk size.
func (p *BatchProcessor) BatchSize() int { return p.batchSize }

// Process infers graphs chunk by chunk with InferBatch semantics: the
// first failure stops processing and fails the whole run.
func (p *BatchProcessor) Process(ctx context.Context, graphs []*graph.CodeGraph) ([]*Result, error) {
	total := len(graphs)
	out := make([]*Result, 0, total)
	for batch, start := 0, 0; start < total; batch, start = batch+1, start+p.batchSize {
		end := min(start+p.batchSize, total)
		p.emit(ProgressEvent{Batch: batch, Status: ProgressWorking, Done: start, Total: total})

		res, err := p.engine.InferBatch(ctx, graphs[start:end])
		if err != nil {
			p.emit(ProgressEvent{Batch: batch, Status: ProgressFailed, Done: start, Total: total, Message: err.Error()})
			return nil, fmt.Errorf("batch %d: %w", batch, err)
		}
		out = append(out, res...)
		p.emit(ProgressEvent{Batch: batch, Status: ProgressComplete, Done: end, Total: total})
	}
	return out, nil
}

func (p *BatchProcessor) emit(ev ProgressEvent) {
	if p.onProgress != nil {
		p.onProgress(ev)
	}
}
