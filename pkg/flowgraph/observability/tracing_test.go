package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest creates a span manager recording into memory.
func setupTracingTest(t *testing.T) (SpanManager, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return NewSpanManagerFor(tp), recorder
}

func TestSpanManager_RunAndNodeSpans(t *testing.T) {
	spans, recorder := setupTracingTest(t)

	ctx, runSpan := spans.StartRunSpan(context.Background(), "director", "director-1")
	_, nodeSpan := spans.StartNodeSpan(ctx, "generator")
	spans.EndSpanWithError(nodeSpan, nil)
	spans.EndSpanWithError(runSpan, errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	node, run := ended[0], ended[1]
	assert.Equal(t, "flowgraph.node.generator", node.Name())
	assert.Contains(t, node.Attributes(), AttrNode.String("generator"))
	assert.Equal(t, codes.Ok, node.Status().Code)
	assert.Equal(t, run.SpanContext().SpanID(), node.Parent().SpanID())

	assert.Equal(t, "flowgraph.run", run.Name())
	assert.Equal(t, codes.Error, run.Status().Code)
	assert.Contains(t, run.Attributes(), AttrThread.String("director-1"))
	assert.Contains(t, run.Attributes(), AttrGraph.String("director"))
	require.Len(t, run.Events(), 1, "error should be recorded as an event")
}

func TestSpanManager_AddSpanEvent(t *testing.T) {
	spans, recorder := setupTracingTest(t)

	ctx, span := spans.StartRunSpan(context.Background(), "g", "t")
	spans.AddSpanEvent(ctx, "interrupt", AttrNode.String("human_review"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "interrupt", ended[0].Events()[0].Name)
}

func TestAddSpanEvent_NoSpan(t *testing.T) {
	// Must not panic without a recording span
	AddSpanEvent(context.Background(), "nothing")
	EndSpanWithError(nil, nil)
}

func TestNoopSpanManager(t *testing.T) {
	var m SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := m.StartRunSpan(ctx, "g", "t")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	got, span = m.StartNodeSpan(ctx, "n")
	assert.Equal(t, ctx, got)
	m.EndSpanWithError(span, errors.New("ignored"))
	m.AddSpanEvent(ctx, "ignored")
}
