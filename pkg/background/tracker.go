package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/crewflow/pkg/director"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/signal"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/template"
)

// DefaultMaxConcurrent is how many executions run at once by default.
const DefaultMaxConcurrent = 4

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("tracker closed")

const eventSource = "background"

// Director is the part of director.Workflow executions drive.
type Director interface {
	Start(ctx context.Context, req director.StartRequest) director.Result
	GenerateOnce(ctx context.Context, task string, persona director.Persona) director.Result
}

// CancelResult is the outcome of a cancellation request.
type CancelResult struct {
	Success bool   `json:"success"`
	ID      string `json:"execution_id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ListResult is one page of executions plus counters.
type ListResult struct {
	Executions   []*Execution `json:"executions"`
	RunningCount int          `json:"running_count"`
	Total        int          `json:"total"`
}

// Tracker schedules executions and records their progress.
type Tracker struct {
	store    Store
	signals  signal.Set
	director Director
	expander *template.Expander
	events   event.Publisher
	logger   *slog.Logger
	sem      *semaphore.Weighted
	now      func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// mu serializes read-modify-write cycles on records.
	mu sync.Mutex

	doneMu sync.Mutex
	done   map[string]chan struct{}
}

// Option configures a Tracker.
type Option func(*trackerConfig)

type trackerConfig struct {
	maxConcurrent int
	events        event.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// WithMaxConcurrent bounds how many executions run at once.
// Values below 1 keep the default.
func WithMaxConcurrent(n int) Option {
	return func(c *trackerConfig) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p event.Publisher) Option {
	return func(c *trackerConfig) {
		if p != nil {
			c.events = p
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *trackerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *trackerConfig) { c.now = now }
}

// NewTracker creates a Tracker. Call Close to stop scheduling and wait
// for running executions.
func NewTracker(store Store, signals signal.Set, d Director, opts ...Option) *Tracker {
	cfg := trackerConfig{
		maxConcurrent: DefaultMaxConcurrent,
		events:        event.NopPublisher{},
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Tracker{
		store:    store,
		signals:  signals,
		director: d,
		expander: template.NewExpander(template.OnMissing(template.ReportMissing)),
		events:   cfg.events,
		logger:   cfg.logger,
		sem:      semaphore.NewWeighted(int64(cfg.maxConcurrent)),
		now:      cfg.now,
		ctx:      ctx,
		stop:     stop,
		done:     make(map[string]chan struct{}),
	}
}

// StartTask records a task execution and schedules it.
func (t *Tracker) StartTask(ctx context.Context, userID string, p TaskPayload) (*Execution, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	return t.Start(ctx, userID, KindTask, raw)
}

// StartProject records a project execution and schedules it.
func (t *Tracker) StartProject(ctx context.Context, userID string, p ProjectPayload) (*Execution, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode project payload: %w", err)
	}
	return t.Start(ctx, userID, KindProject, raw)
}

// Start records a pending execution of kind and returns it immediately.
// The work runs on the tracker's pool once a slot is free.
func (t *Tracker) Start(ctx context.Context, userID string, kind Kind, payload json.RawMessage) (*Execution, error) {
	if t.ctx.Err() != nil {
		return nil, ErrClosed
	}
	title, steps, err := inspect(kind, payload)
	if err != nil {
		return nil, err
	}

	e := &Execution{
		ID:              uuid.NewString(),
		UserID:          userID,
		Kind:            kind,
		Status:          StatusPending,
		Title:           title,
		TotalSteps:      steps,
		ProgressMessage: "queued",
		Payload:         slices.Clone(payload),
		CreatedAt:       t.now().UTC(),
	}
	if err := t.store.Create(ctx, e); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	t.doneMu.Lock()
	t.done[e.ID] = done
	t.doneMu.Unlock()

	t.wg.Add(1)
	go t.execute(e.Clone(), done)

	t.logger.Info("background execution queued",
		slog.String("execution_id", e.ID),
		slog.String("kind", string(kind)),
		slog.Int("total_steps", steps))
	return e, nil
}

// inspect validates a payload and derives the title and step count.
func inspect(kind Kind, payload json.RawMessage) (string, int, error) {
	switch kind {
	case KindTask:
		var p TaskPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", 0, &fgerrors.ValidationError{Field: "payload", Message: err.Error()}
		}
		if err := p.Validate(); err != nil {
			return "", 0, err
		}
		return summarize(p.Task, 50), 1, nil
	case KindProject:
		var p ProjectPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", 0, &fgerrors.ValidationError{Field: "payload", Message: err.Error()}
		}
		if err := p.Validate(); err != nil {
			return "", 0, err
		}
		title := p.Title
		if title == "" {
			title = "Untitled project"
		}
		return title, len(p.Steps), nil
	default:
		return "", 0, &fgerrors.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", kind)}
	}
}

// Cancel requests cooperative cancellation. Terminal executions are a
// state conflict; a second request while cancelling is accepted as
// already in progress.
func (t *Tracker) Cancel(ctx context.Context, id string) (CancelResult, error) {
	already := false
	e, err := t.mutate(ctx, id, func(e *Execution) (bool, error) {
		switch {
		case e.Status.Terminal():
			return false, fgerrors.Conflict("cancel execution", "execution %s already %s", id, e.Status)
		case e.Status == StatusCancelling:
			already = true
			return false, nil
		}
		if err := t.signals.Mark(ctx, signal.NewMark(id, "cancelled by user")); err != nil {
			return false, fmt.Errorf("mark cancellation: %w", err)
		}
		e.Status = StatusCancelling
		e.ProgressMessage = "cancellation requested"
		return true, nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	msg := "cancellation requested"
	if already {
		msg = "cancellation already in progress"
	}
	t.logger.Info("background execution cancel requested",
		slog.String("execution_id", id),
		slog.Bool("already", already))
	return CancelResult{Success: true, ID: id, Status: e.Status, Message: msg}, nil
}

// Get returns one execution.
func (t *Tracker) Get(ctx context.Context, id string) (*Execution, error) {
	return t.store.Get(ctx, id)
}

// List returns one page of executions with the owner's running count.
func (t *Tracker) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	items, total, err := t.store.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	running, err := t.store.CountActive(ctx, filter.UserID)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Executions: items, RunningCount: running, Total: total}, nil
}

// Wait blocks until the execution scheduled by this tracker finishes or
// ctx ends, then returns its record.
func (t *Tracker) Wait(ctx context.Context, id string) (*Execution, error) {
	t.doneMu.Lock()
	done, ok := t.done[id]
	t.doneMu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.store.Get(ctx, id)
}

// Recover settles records orphaned by a previous process: pending and
// running executions fail as interrupted, cancelling ones end cancelled.
// It returns how many records changed.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	orphans, _, err := t.store.List(ctx, ListFilter{Statuses: activeStatuses})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range orphans {
		t.doneMu.Lock()
		_, live := t.done[e.ID]
		t.doneMu.Unlock()
		if live {
			continue
		}

		if e.Status == StatusCancelling {
			err = t.cancelled(ctx, e)
		} else {
			err = t.fail(ctx, e, errors.New("interrupted by restart"))
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		t.logger.Warn("recovered orphaned background executions", slog.Int("count", n))
	}
	return n, nil
}

// Close stops scheduling and cancels running executions, which end failed,
// then waits for them to return. Executions still queued stay pending for
// Recover.
func (t *Tracker) Close(ctx context.Context) error {
	t.stop()
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate loads a record, applies fn and writes it back when fn reports
// a change.
func (t *Tracker) mutate(ctx context.Context, id string, fn func(e *Execution) (bool, error)) (*Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(e)
	if err != nil {
		return nil, err
	}
	if !changed {
		return e, nil
	}
	if err := t.store.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *Tracker) publish(ctx context.Context, evt event.Event) {
	if err := t.events.Publish(ctx, evt); err != nil {
		t.logger.Warn("publish event failed",
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()))
	}
}

// summarize returns the first n runes of s, marking truncation.
func summarize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
