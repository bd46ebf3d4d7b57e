package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives engine and director measurements. NoopMetrics
// discards them.
type MetricsRecorder interface {
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)
	RecordGraphRun(ctx context.Context, success bool, duration time.Duration)
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
	// RecordInterrupt counts a pass that parked before nodeID.
	RecordInterrupt(ctx context.Context, nodeID string)
	// RecordEvaluation records a reviewer score. source is how the score
	// was parsed: ok, fallback or default.
	RecordEvaluation(ctx context.Context, score int, source string)
}

type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	interrupts     metric.Int64Counter
	evaluations    metric.Int64Counter
	scores         metric.Int64Histogram
}

var globalMetrics = sync.OnceValues(func() (*otelMetrics, error) {
	return newOtelMetrics(otel.GetMeterProvider())
})

func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter("crewflow")
	var errs []error

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	latency := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		errs = append(errs, err)
		return h
	}
	histogram := func(name, desc string, opts ...metric.Int64HistogramOption) metric.Int64Histogram {
		h, err := meter.Int64Histogram(name, append(opts, metric.WithDescription(desc))...)
		errs = append(errs, err)
		return h
	}

	m := &otelMetrics{
		nodeExecutions: counter("flowgraph.node.executions", "Nodes executed"),
		nodeLatency:    latency("flowgraph.node.latency_ms", "Node duration"),
		nodeErrors:     counter("flowgraph.node.errors", "Nodes that returned an error or panicked"),
		graphRuns:      counter("flowgraph.graph.runs", "Graph passes, by outcome"),
		graphLatency:   latency("flowgraph.graph.latency_ms", "Graph pass duration"),
		checkpointSize: histogram("flowgraph.checkpoint.size_bytes", "Encoded checkpoint size", metric.WithUnit("By")),
		interrupts:     counter("flowgraph.interrupts", "Passes parked before an interrupt node"),
		evaluations:    counter("director.evaluations", "Drafts scored by the reviewer"),
		scores:         histogram("director.score", "Reviewer scores"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return m, nil
}

// NewMetricsRecorder records through the global meter provider, so
// otel.SetMeterProvider must run first. Instruments are created once per
// process; if that fails the recorder is a no-op.
func NewMetricsRecorder() MetricsRecorder {
	m, err := globalMetrics()
	if err != nil {
		slog.Warn("metrics disabled", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFor records through provider.
func NewMetricsRecorderFor(provider metric.MeterProvider) (MetricsRecorder, error) {
	return newOtelMetrics(provider)
}

func nodeAttr(nodeID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("node_id", nodeID))
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := nodeAttr(nodeID)
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, nodeAttr(nodeID))
}

func (m *otelMetrics) RecordInterrupt(ctx context.Context, nodeID string) {
	m.interrupts.Add(ctx, 1, nodeAttr(nodeID))
}

func (m *otelMetrics) RecordEvaluation(ctx context.Context, score int, source string) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.evaluations.Add(ctx, 1, attrs)
	m.scores.Record(ctx, int64(score), attrs)
}
