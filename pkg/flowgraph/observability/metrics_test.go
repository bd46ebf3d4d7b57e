package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a recorder bound to a manual reader.
func setupMetricsTest(t *testing.T) (MetricsRecorder, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	recorder, err := NewMetricsRecorderFor(provider)
	require.NoError(t, err)
	return recorder, reader
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the datapoint with key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64]")
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetricsRecorder_Global(t *testing.T) {
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestRecordNodeExecution(t *testing.T) {
	m, reader := setupMetricsTest(t)
	ctx := context.Background()

	m.RecordNodeExecution(ctx, "generator", 50*time.Millisecond, nil)
	m.RecordNodeExecution(ctx, "generator", 10*time.Millisecond, errors.New("boom"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "flowgraph.node.executions"), "node_id", "generator"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "flowgraph.node.errors"), "node_id", "generator"))

	hist, ok := findMetric(rm, "flowgraph.node.latency_ms").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestRecordInterrupt(t *testing.T) {
	m, reader := setupMetricsTest(t)

	m.RecordInterrupt(context.Background(), "human_review")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "flowgraph.interrupts"), "node_id", "human_review"))
}

func TestRecordEvaluation(t *testing.T) {
	m, reader := setupMetricsTest(t)
	ctx := context.Background()

	m.RecordEvaluation(ctx, 85, "ok")
	m.RecordEvaluation(ctx, 50, "default")
	m.RecordEvaluation(ctx, 60, "fallback")
	m.RecordEvaluation(ctx, 90, "ok")

	rm := collectMetrics(t, reader)
	evals := findMetric(rm, "director.evaluations")
	assert.Equal(t, int64(2), sumFor(t, evals, "source", "ok"))
	assert.Equal(t, int64(1), sumFor(t, evals, "source", "fallback"))
	assert.Equal(t, int64(1), sumFor(t, evals, "source", "default"))
	assert.NotNil(t, findMetric(rm, "director.score"))
}

func TestRecordGraphRunAndCheckpoint(t *testing.T) {
	m, reader := setupMetricsTest(t)
	ctx := context.Background()

	m.RecordGraphRun(ctx, true, time.Second)
	m.RecordCheckpoint(ctx, "generator", 512)

	rm := collectMetrics(t, reader)
	assert.NotNil(t, findMetric(rm, "flowgraph.graph.runs"))
	assert.NotNil(t, findMetric(rm, "flowgraph.graph.latency_ms"))

	size, ok := findMetric(rm, "flowgraph.checkpoint.size_bytes").Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, size.DataPoints, 1)
	assert.Equal(t, int64(512), size.DataPoints[0].Sum)
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	m.RecordNodeExecution(ctx, "n", time.Millisecond, nil)
	m.RecordGraphRun(ctx, true, time.Millisecond)
	m.RecordCheckpoint(ctx, "n", 1)
	m.RecordInterrupt(ctx, "n")
	m.RecordEvaluation(ctx, 1, "ok")
}
