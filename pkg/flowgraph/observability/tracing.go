package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrGraph  = attribute.Key("graph.name")
	AttrThread = attribute.Key("thread.id")
	AttrNode   = attribute.Key("node.id")
)

// SpanManager opens the spans of a pass: one "flowgraph.run" span per pass
// over a thread and one "flowgraph.node.<id>" child per executed node.
type SpanManager interface {
	StartRunSpan(ctx context.Context, graphName, threadID string) (context.Context, trace.Span)
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)
	// EndSpanWithError sets the span status from err and ends it.
	EndSpanWithError(span trace.Span, err error)
	// AddSpanEvent annotates the span carried by ctx, if it is recording.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager traces through the global tracer provider, so
// otel.SetTracerProvider must run first.
func NewSpanManager() SpanManager {
	return NewSpanManagerFor(otel.GetTracerProvider())
}

// NewSpanManagerFor traces through provider.
func NewSpanManagerFor(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer("crewflow")}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, graphName, threadID string) (context.Context, trace.Span) {
	return m.start(ctx, "flowgraph.run", AttrGraph.String(graphName), AttrThread.String(threadID))
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return m.start(ctx, "flowgraph.node."+nodeID, AttrNode.String(nodeID))
}

func (m *otelSpanManager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) { EndSpanWithError(span, err) }

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError records err on span, or marks it Ok, and ends it. A nil
// span is ignored.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err == nil {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddSpanEvent adds an event to the recording span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
