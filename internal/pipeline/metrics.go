package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type pipelineMetrics struct {
	started    metric.Int64Counter
	cycles     metric.Int64Counter
	processing metric.Float64Histogram
}

func newPipelineMetrics(log *slog.Logger) *pipelineMetrics {
	meter := otel.Meter("github.com/loqalabs/loqa-scribe/pipeline")
	m := &pipelineMetrics{}

	var err error
	m.started, err = meter.Int64Counter("scribe.pipeline.recordings.started",
		metric.WithDescription("Recordings started"))
	if err != nil {
		log.Warn("failed to create started counter", slog.String("error", err.Error()))
	}
	m.cycles, err = meter.Int64Counter("scribe.pipeline.cycles",
		metric.WithDescription("Recording cycles by outcome"))
	if err != nil {
		log.Warn("failed to create cycle counter", slog.String("error", err.Error()))
	}
	m.processing, err = meter.Float64Histogram("scribe.pipeline.processing.duration",
		metric.WithDescription("Wall time spent processing one recording"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warn("failed to create processing histogram", slog.String("error", err.Error()))
	}
	return m
}

func (m *pipelineMetrics) recordStart(ctx context.Context) {
	if m == nil || m.started == nil {
		return
	}
	m.started.Add(ctx, 1)
}

func (m *pipelineMetrics) recordCycle(ctx context.Context, outcome string) {
	if m == nil || m.cycles == nil {
		return
	}
	m.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *pipelineMetrics) recordProcessing(ctx context.Context, elapsed time.Duration) {
	if m == nil || m.processing == nil {
		return
	}
	m.processing.Record(ctx, elapsed.Seconds())
}
