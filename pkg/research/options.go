package research

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

type workflowConfig struct {
	maxLoops   int
	maxResults int
	loopDelay  time.Duration
	writeDelay time.Duration
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	runOpts    []flowgraph.RunOption
}

func defaultWorkflowConfig() workflowConfig {
	return workflowConfig{
		maxLoops:   MaxLoops,
		maxResults: DefaultMaxResults,
		loopDelay:  15 * time.Second,
		writeDelay: 3 * time.Second,
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
	}
}

// Option configures a Workflow.
type Option func(*workflowConfig)

// WithMaxLoops caps researcher passes. Values below 1 keep MaxLoops.
func WithMaxLoops(n int) Option {
	return func(c *workflowConfig) {
		if n >= 1 {
			c.maxLoops = n
		}
	}
}

// WithMaxResults sets the hits requested per search.
func WithMaxResults(n int) Option {
	return func(c *workflowConfig) {
		if n >= 1 {
			c.maxResults = n
		}
	}
}

// WithDelays sets the pause before repeat searches and before writing.
func WithDelays(loop, write time.Duration) Option {
	return func(c *workflowConfig) {
		c.loopDelay = loop
		c.writeDelay = write
	}
}

// WithLogger sets the workflow logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *workflowConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *workflowConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRunOptions appends engine run options, such as tracing.
func WithRunOptions(opts ...flowgraph.RunOption) Option {
	return func(c *workflowConfig) { c.runOpts = append(c.runOpts, opts...) }
}
