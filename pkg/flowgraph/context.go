package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

// Context is what a node runs with: a context.Context plus the thread it
// belongs to, the node being executed and a logger already tagged with both.
// Contexts are never mutated; the engine derives one per node.
type Context interface {
	context.Context

	// Logger never returns nil.
	Logger() *slog.Logger
	ThreadID() string
	// NodeID is empty outside a node.
	NodeID() string
}

type executionContext struct {
	context.Context

	logger   *slog.Logger
	threadID string
	nodeID   string
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) ThreadID() string     { return c.threadID }
func (c *executionContext) NodeID() string       { return c.nodeID }

// ContextOption configures NewContext.
type ContextOption func(*executionContext)

// WithLogger replaces slog.Default. A nil logger is ignored.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextThreadID binds the context to a thread. The WithThreadID run
// option takes precedence.
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) { c.threadID = id }
}

// NewContext wraps ctx. Without WithContextThreadID the thread ID is a
// fresh UUID.
//
//	ctx := flowgraph.NewContext(r.Context(),
//		flowgraph.WithLogger(logger),
//		flowgraph.WithContextThreadID(threadID))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{Context: ctx, logger: slog.Default(), threadID: uuid.NewString()}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// asExecutionContext accepts Context implementations from outside the package.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{Context: ctx, logger: ctx.Logger(), threadID: ctx.ThreadID(), nodeID: ctx.NodeID()}
}

func (c *executionContext) withThreadID(threadID string) *executionContext {
	if threadID == "" || threadID == c.threadID {
		return c
	}
	cp := *c
	cp.threadID = threadID
	return &cp
}

// withNodeID tags the logger with the thread and node. The base logger is
// the caller's, so tags never accumulate across nodes.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	cp := *c
	cp.nodeID = nodeID
	cp.logger = observability.EnrichLogger(c.logger, c.threadID, nodeID)
	return &cp
}

func (c *executionContext) withStdContext(ctx context.Context) *executionContext {
	cp := *c
	cp.Context = ctx
	return &cp
}
