package director

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

// MaxRevisionsLimit bounds StartRequest.MaxRevisions.
const MaxRevisionsLimit = 10

type workflowConfig struct {
	store         checkpoint.Store
	retry         fgerrors.RetryConfig
	revisionDelay time.Duration
	reflectDelay  time.Duration
	passingScore  int
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	runOpts       []flowgraph.RunOption
}

func defaultWorkflowConfig() workflowConfig {
	return workflowConfig{
		retry:         fgerrors.ThrottleRetry,
		revisionDelay: 5 * time.Second,
		reflectDelay:  3 * time.Second,
		passingScore:  DefaultPassingScore,
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
	}
}

// Option configures a Workflow.
type Option func(*workflowConfig)

// WithCheckpointer sets the store parked runs are kept in.
// Default: an in-memory store, which does not survive a restart.
func WithCheckpointer(store checkpoint.Store) Option {
	return func(c *workflowConfig) { c.store = store }
}

// WithRetry sets the rate-limit retry policy of the generator.
// Default: errors.ThrottleRetry (3 attempts, 30s doubling, jitter).
func WithRetry(cfg fgerrors.RetryConfig) Option {
	return func(c *workflowConfig) { c.retry = cfg }
}

// WithDelays sets the pauses before a revision and before each review.
func WithDelays(revision, reflect time.Duration) Option {
	return func(c *workflowConfig) {
		c.revisionDelay = revision
		c.reflectDelay = reflect
	}
}

// WithPassingScore sets the score that completes the loop. Default 70.
func WithPassingScore(score int) Option {
	return func(c *workflowConfig) { c.passingScore = Clamp(score) }
}

// WithLogger sets the logger for the workflow and its engine runs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *workflowConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records evaluations and engine metrics with m.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *workflowConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRunOptions passes extra options to every engine run.
func WithRunOptions(opts ...flowgraph.RunOption) Option {
	return func(c *workflowConfig) { c.runOpts = append(c.runOpts, opts...) }
}
