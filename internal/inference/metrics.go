package inference

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for inference operations.
var (
	tracer = otel.Tracer("codegnn.inference")
	meter  = otel.Meter("codegnn.inference")
)

// Metrics for inference operations.
var (
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	computeTotal  metric.Int64Counter
	errorTotal    metric.Int64Counter
	storeHits     metric.Int64Counter
	inferLatency  metric.Float64Histogram
	searchLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if cacheHits, err = meter.Int64Counter(
			"codegnn_cache_hits_total",
			metric.WithDescription("Total number of embedding cache hits"),
		); err != nil {
			metricsErr = err
			return
		}

		if cacheMisses, err = meter.Int64Counter(
			"codegnn_cache_misses_total",
			metric.WithDescription("Total number of embedding cache misses"),
		); err != nil {
			metricsErr = err
			return
		}

		if computeTotal, err = meter.Int64Counter(
			"codegnn_compute_total",
			metric.WithDescription("Total number of embeddings computed by the model"),
		); err != nil {
			metricsErr = err
			return
		}

		if errorTotal, err = meter.Int64Counter(
			"codegnn_infer_errors_total",
			metric.WithDescription("Total number of failed inferences"),
		); err != nil {
			metricsErr = err
			return
		}

		if storeHits, err = meter.Int64Counter(
			"codegnn_store_hits_total",
			metric.WithDescription("Total number of embeddings loaded from the persistent store"),
		); err != nil {
			metricsErr = err
			return
		}

		if inferLatency, err = meter.Float64Histogram(
			"codegnn_infer_duration_seconds",
			metric.WithDescription("Duration of infer calls"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if searchLatency, err = meter.Float64Histogram(
			"codegnn_search_duration_seconds",
			metric.WithDescription("Duration of similarity searches"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordCacheMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordCompute(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	computeTotal.Add(ctx, 1)
}

func recordError(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	errorTotal.Add(ctx, 1)
}

func recordStoreHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	storeHits.Add(ctx, 1)
}

// recordInferLatency records the latency of an infer call.
func recordInferLatency(ctx context.Context, d time.Duration, cached bool) {
	if err := initMetrics(); err != nil {
		return
	}
	inferLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Bool("cached", cached)),
	)
}

func recordSearchLatency(ctx context.Context, d time.Duration, size int) {
	if err := initMetrics(); err != nil {
		return
	}
	searchLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Int("index.size", size)),
	)
}

// startSpan creates a span for an inference operation.
func startSpan(ctx context.Context, operation, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+operation,
		trace.WithAttributes(
			attribute.String("inference.operation", operation),
			attribute.String("inference.file_path", path),
		),
	)
}
