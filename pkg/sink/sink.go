// Package sink delivers approved director output to its destination.
//
// The director core never calls a sink; the HTTP layer dispatches once
// a run completes with approval and an output kind other than none.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/registry"
)

// ErrNoSink is returned when no sink is registered for an output kind.
var ErrNoSink = errors.New("no sink registered")

// Output kinds a registry may serve.
const (
	KindSlides = "slides"
	KindSheets = "sheets"
	KindSlack  = "slack"
	KindEmail  = "email"
)

// Kinds lists every deliverable output kind.
var Kinds = []string{KindSlides, KindSheets, KindSlack, KindEmail}

// Output is one approved result ready for delivery.
type Output struct {
	Kind     string `json:"output_kind"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
}

// Reference identifies where an output was delivered.
type Reference struct {
	Kind        string    `json:"output_kind"`
	Location    string    `json:"location"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Sink delivers an output.
type Sink func(ctx context.Context, out Output) (Reference, error)

// Registry maps output kinds to sinks. It is safe for concurrent use.
type Registry struct {
	sinks *registry.Registry[string, Sink]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sinks: registry.New[string, Sink]()}
}

// Default returns a registry with a logging sink for every kind.
func Default(logger *slog.Logger) *Registry {
	r := NewRegistry()
	for _, kind := range Kinds {
		r.Register(kind, LogSink(logger))
	}
	return r
}

// Register sets the sink for kind, replacing any previous one.
// Panics on an empty kind or nil sink.
func (r *Registry) Register(kind string, s Sink) {
	if kind == "" {
		panic("sink: empty output kind")
	}
	if s == nil {
		panic("sink: nil sink for " + kind)
	}
	r.sinks.Set(kind, s)
}

// Has reports whether kind has a sink.
func (r *Registry) Has(kind string) bool {
	return r.sinks.Has(kind)
}

// Kinds returns the registered output kinds in order.
func (r *Registry) Kinds() []string {
	return r.sinks.Keys()
}

// Dispatch delivers out through the sink registered for its kind.
func (r *Registry) Dispatch(ctx context.Context, out Output) (Reference, error) {
	s, ok := r.sinks.Get(out.Kind)
	if !ok {
		return Reference{}, fmt.Errorf("%w for %q", ErrNoSink, out.Kind)
	}

	ref, err := s(ctx, out)
	if err != nil {
		return Reference{}, fmt.Errorf("deliver %s output: %w", out.Kind, err)
	}
	return ref, nil
}

// LogSink records the output in the log and reports a log: location.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, out Output) (Reference, error) {
		logger.Info("output delivered",
			slog.String("output_kind", out.Kind),
			slog.String("thread_id", out.ThreadID),
			slog.Int("length", utf8.RuneCountInString(out.Content)))
		return Reference{
			Kind:        out.Kind,
			Location:    "log:" + out.ThreadID,
			DeliveredAt: time.Now().UTC(),
		}, nil
	}
}
