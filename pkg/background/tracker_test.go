package background_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/crewflow/pkg/background"
	"github.com/randalmurphal/crewflow/pkg/director"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/signal"
)

// fakeDirector numbers its outputs by call order. A non-nil gate holds
// every call until it is closed.
type fakeDirector struct {
	mu       sync.Mutex
	tasks    []string
	requests []director.StartRequest
	fail     map[int]string
	gate     chan struct{}
	started  chan string
}

func newFakeDirector() *fakeDirector {
	return &fakeDirector{fail: map[int]string{}, started: make(chan string, 16)}
}

func (f *fakeDirector) GenerateOnce(ctx context.Context, task string, persona director.Persona) director.Result {
	f.mu.Lock()
	n := len(f.tasks)
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	f.started <- task
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return director.Result{Status: director.StatusError, Error: ctx.Err().Error()}
		}
	}
	if msg, ok := f.fail[n]; ok {
		return director.Result{Status: director.StatusError, Error: msg}
	}
	return director.Result{
		Success:     true,
		Status:      director.StatusCompleted,
		FinalResult: fmt.Sprintf("output %d", n+1),
		Score:       100,
	}
}

func (f *fakeDirector) Start(_ context.Context, req director.StartRequest) director.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return director.Result{
		Success:       true,
		Status:        director.StatusCompleted,
		FinalResult:   "reviewed: " + req.Task,
		Score:         85,
		RevisionCount: 2,
	}
}

func (f *fakeDirector) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tasks...)
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, evt event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func tickingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

type fixture struct {
	tracker  *background.Tracker
	store    *background.MemoryStore
	signals  *signal.MemorySet
	director *fakeDirector
	events   *recorder
}

func newFixture(t *testing.T, opts ...background.Option) fixture {
	t.Helper()
	f := fixture{
		store:    background.NewMemoryStore(),
		signals:  signal.NewMemorySet(),
		director: newFakeDirector(),
		events:   &recorder{},
	}
	base := []background.Option{
		background.WithPublisher(f.events),
		background.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		background.WithClock(tickingClock()),
	}
	f.tracker = background.NewTracker(f.store, f.signals, f.director, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.tracker.Close(ctx)
	})
	return f
}

func wait(t *testing.T, tr *background.Tracker, id string) *background.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := tr.Wait(ctx, id)
	require.NoError(t, err)
	return e
}

func awaitStarted(t *testing.T, d *fakeDirector) string {
	t.Helper()
	select {
	case task := <-d.started:
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("director was never called")
		return ""
	}
}

func TestStartTask_Completes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "Draft the launch post"})
	require.NoError(t, err)
	assert.Equal(t, background.StatusPending, e.Status)
	assert.Equal(t, 1, e.TotalSteps)

	done := wait(t, f.tracker, e.ID)
	assert.Equal(t, background.StatusCompleted, done.Status)
	assert.Equal(t, 1, done.CurrentStep)
	assert.Empty(t, done.Error)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	var res background.TaskResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "output 1", res.Result)
	assert.Equal(t, director.DefaultPersona.Name, res.PersonaName)
	assert.Equal(t, 100, res.Score)

	assert.Equal(t, []event.Type{event.TaskStarted, event.TaskCompleted}, f.events.types())
	assert.Zero(t, f.signals.Len())
}

func TestStartTask_UseReflectorRunsFullLoop(t *testing.T) {
	f := newFixture(t)

	e, err := f.tracker.StartTask(context.Background(), "u1", background.TaskPayload{
		Task:         "Review the plan",
		UseReflector: true,
		MaxRevisions: 2,
	})
	require.NoError(t, err)
	done := wait(t, f.tracker, e.ID)

	var res background.TaskResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.Equal(t, "reviewed: Review the plan", res.Result)
	assert.Equal(t, 85, res.Score)
	assert.Equal(t, 2, res.RevisionCount)
	assert.Empty(t, f.director.calls())
	require.Len(t, f.director.requests, 1)
	assert.False(t, f.director.requests[0].RequiresApproval)
}

func TestStartTask_Failure(t *testing.T) {
	f := newFixture(t)
	f.director.fail[0] = "llm unavailable"

	e, err := f.tracker.StartTask(context.Background(), "u1", background.TaskPayload{Task: "t"})
	require.NoError(t, err)
	done := wait(t, f.tracker, e.ID)

	assert.Equal(t, background.StatusFailed, done.Status)
	assert.Equal(t, "llm unavailable", done.Error)
	assert.Empty(t, done.Result)
	assert.Equal(t, []event.Type{event.TaskStarted, event.ExecutionFailed}, f.events.types())
}

func TestStartProject_ChainsStepsAndSubstitutes(t *testing.T) {
	f := newFixture(t)

	e, err := f.tracker.StartProject(context.Background(), "u1", background.ProjectPayload{
		Title: "Launch",
		Steps: []background.ProjectStep{
			{Role: "research", Instruction: "Research {topic}"},
			{Role: "write", Instruction: "Write about {topic} for {audience}"},
			{Role: "edit", Instruction: "Edit the post"},
		},
		InputValues:   map[string]string{"topic": "gophers"},
		SearchContext: "gophers dig tunnels",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, e.TotalSteps)
	done := wait(t, f.tracker, e.ID)
	require.Equal(t, background.StatusCompleted, done.Status)

	calls := f.director.calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0], "Research gophers")
	assert.Contains(t, calls[0], "## Research context\ngophers dig tunnels")
	assert.Contains(t, calls[1], "Write about gophers for {audience}")
	assert.Contains(t, calls[1], "## Previous task output\noutput 1")
	assert.NotContains(t, calls[1], "gophers dig tunnels")
	assert.Contains(t, calls[2], "output 2")

	var res background.ProjectResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.Equal(t, "Launch", res.Title)
	require.Len(t, res.Results, 3)
	for i, r := range res.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, background.StepCompleted, r.Status)
	}
	assert.Equal(t, 3, done.CurrentStep)
	assert.Equal(t, []event.Type{event.ProjectStarted, event.ProjectCompleted}, f.events.types())
}

func TestStartProject_FailingStepIsRecordedAndProjectContinues(t *testing.T) {
	f := newFixture(t)
	f.director.fail[1] = "rate limited"

	e, err := f.tracker.StartProject(context.Background(), "u1", background.ProjectPayload{
		Steps: []background.ProjectStep{
			{Instruction: "one"}, {Instruction: "two"}, {Instruction: "three"},
		},
	})
	require.NoError(t, err)
	done := wait(t, f.tracker, e.ID)
	require.Equal(t, background.StatusCompleted, done.Status)
	assert.Equal(t, "Untitled project", done.Title)

	var res background.ProjectResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	require.Len(t, res.Results, 3)
	assert.Equal(t, background.StepCompleted, res.Results[0].Status)
	assert.Equal(t, background.StepError, res.Results[1].Status)
	assert.Equal(t, "rate limited", res.Results[1].Error)
	assert.Equal(t, background.StepCompleted, res.Results[2].Status)

	calls := f.director.calls()
	assert.Contains(t, calls[2], "output 1")
}

func TestStartProject_TruncatesStepResults(t *testing.T) {
	f := newFixture(t)
	long := &longDirector{text: strings.Repeat("é", 800)}
	tr := background.NewTracker(f.store, f.signals, long,
		background.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	e, err := tr.StartProject(context.Background(), "u1", background.ProjectPayload{
		Steps: []background.ProjectStep{{Instruction: "go"}},
	})
	require.NoError(t, err)
	done := wait(t, tr, e.ID)

	var res background.ProjectResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	require.Len(t, res.Results, 1)
	assert.Len(t, []rune(res.Results[0].Result), background.ResultPreviewLimit+3)
}

type longDirector struct{ text string }

func (d *longDirector) GenerateOnce(context.Context, string, director.Persona) director.Result {
	return director.Result{Success: true, Status: director.StatusCompleted, FinalResult: d.text, Score: 100}
}

func (d *longDirector) Start(context.Context, director.StartRequest) director.Result {
	return director.Result{Success: true, Status: director.StatusCompleted, FinalResult: d.text}
}

func TestCancel_PendingExecutionNeverRuns(t *testing.T) {
	f := newFixture(t, background.WithMaxConcurrent(1))
	f.director.gate = make(chan struct{})
	ctx := context.Background()

	first, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "first"})
	require.NoError(t, err)
	awaitStarted(t, f.director)

	second, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "second"})
	require.NoError(t, err)

	res, err := f.tracker.Cancel(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, background.StatusCancelling, res.Status)
	assert.Equal(t, "cancellation requested", res.Message)

	again, err := f.tracker.Cancel(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancellation already in progress", again.Message)

	close(f.director.gate)
	assert.Equal(t, background.StatusCompleted, wait(t, f.tracker, first.ID).Status)

	cancelled := wait(t, f.tracker, second.ID)
	assert.Equal(t, background.StatusCancelled, cancelled.Status)
	assert.Empty(t, cancelled.Result)
	assert.Empty(t, cancelled.Error)
	assert.Nil(t, cancelled.StartedAt)
	assert.Equal(t, []string{"first"}, f.director.calls())
	assert.Zero(t, f.signals.Len())
	assert.Contains(t, f.events.types(), event.ExecutionCancelled)
}

func TestCancel_CompletedIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "t"})
	require.NoError(t, err)
	wait(t, f.tracker, e.ID)

	_, err = f.tracker.Cancel(ctx, e.ID)
	require.Error(t, err)
	assert.True(t, fgerrors.IsStateConflict(err))

	got, err := f.tracker.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, background.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.Result)
	assert.Zero(t, f.signals.Len())
}

func TestCancel_RunningProjectStopsAtNextStep(t *testing.T) {
	f := newFixture(t)
	f.director.gate = make(chan struct{})
	ctx := context.Background()

	e, err := f.tracker.StartProject(ctx, "u1", background.ProjectPayload{
		Steps: []background.ProjectStep{
			{Instruction: "one"}, {Instruction: "two"}, {Instruction: "three"},
		},
	})
	require.NoError(t, err)
	awaitStarted(t, f.director)

	res, err := f.tracker.Cancel(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, background.StatusCancelling, res.Status)
	close(f.director.gate)

	done := wait(t, f.tracker, e.ID)
	assert.Equal(t, background.StatusCancelled, done.Status)
	assert.Equal(t, 1, done.CurrentStep)
	assert.Empty(t, done.Result)
	assert.Len(t, f.director.calls(), 1)
	assert.Equal(t, []event.Type{event.ProjectStarted, event.ExecutionCancelled}, f.events.types())
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, background.ErrNotFound)
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name    string
		kind    background.Kind
		payload string
		field   string
	}{
		{name: "empty task", kind: background.KindTask, payload: `{"task":""}`, field: "task"},
		{name: "no steps", kind: background.KindProject, payload: `{"tasks":[]}`, field: "tasks"},
		{name: "step without instruction", kind: background.KindProject, payload: `{"tasks":[{"role":"x"}]}`, field: "tasks.instruction"},
		{name: "unknown kind", kind: "report", payload: `{}`, field: "kind"},
		{name: "malformed payload", kind: background.KindTask, payload: `{`, field: "payload"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tracker.Start(context.Background(), "u1", tc.kind, json.RawMessage(tc.payload))
			var verr *fgerrors.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	res, err := f.tracker.List(context.Background(), background.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestList_RunningCountAndOrder(t *testing.T) {
	f := newFixture(t, background.WithMaxConcurrent(1))
	f.director.gate = make(chan struct{})
	ctx := context.Background()

	a, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "a"})
	require.NoError(t, err)
	awaitStarted(t, f.director)
	b, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "b"})
	require.NoError(t, err)
	_, err = f.tracker.StartTask(ctx, "u2", background.TaskPayload{Task: "c"})
	require.NoError(t, err)

	res, err := f.tracker.List(ctx, background.ListFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.RunningCount)
	require.Len(t, res.Executions, 2)
	assert.Equal(t, b.ID, res.Executions[0].ID)
	assert.Equal(t, a.ID, res.Executions[1].ID)

	close(f.director.gate)
	wait(t, f.tracker, a.ID)
	wait(t, f.tracker, b.ID)

	res, err = f.tracker.List(ctx, background.ListFilter{UserID: "u1", Statuses: []background.Status{background.StatusCompleted}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.RunningCount)
	assert.Len(t, res.Executions, 1)
}

func TestRecover_SettlesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	seed := map[string]background.Status{
		"pending":    background.StatusPending,
		"running":    background.StatusRunning,
		"cancelling": background.StatusCancelling,
		"completed":  background.StatusCompleted,
	}
	for id, status := range seed {
		require.NoError(t, f.store.Create(ctx, &background.Execution{
			ID: id, UserID: "u1", Kind: background.KindTask, Status: status, CreatedAt: now,
		}))
	}
	require.NoError(t, f.signals.Mark(ctx, signal.NewMark("cancelling", "user")))

	n, err := f.tracker.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want := map[string]background.Status{
		"pending":    background.StatusFailed,
		"running":    background.StatusFailed,
		"cancelling": background.StatusCancelled,
		"completed":  background.StatusCompleted,
	}
	for id, status := range want {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status, id)
	}

	failed, err := f.store.Get(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, "interrupted by restart", failed.Error)
	assert.Zero(t, f.signals.Len())
}

func TestClose_LeavesQueuedWorkPending(t *testing.T) {
	f := newFixture(t, background.WithMaxConcurrent(1))
	f.director.gate = make(chan struct{})
	ctx := context.Background()

	running, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "a"})
	require.NoError(t, err)
	awaitStarted(t, f.director)
	queued, err := f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "b"})
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.tracker.Close(closeCtx))

	got, err := f.store.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, background.StatusFailed, got.Status)

	got, err = f.store.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, background.StatusPending, got.Status)

	_, err = f.tracker.StartTask(ctx, "u1", background.TaskPayload{Task: "c"})
	assert.ErrorIs(t, err, background.ErrClosed)
}

func TestStartTask_WithDirectorWorkflow(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	wf, err := director.NewWorkflow(llm.NewMockClient("A finished draft"),
		director.WithDelays(0, 0), director.WithLogger(quiet))
	require.NoError(t, err)

	tr := background.NewTracker(background.NewMemoryStore(), signal.NewMemorySet(), wf,
		background.WithLogger(quiet))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	e, err := tr.StartTask(context.Background(), "u1", background.TaskPayload{
		Task:    "Write a haiku",
		Persona: director.Persona{Name: "Mika", Role: "poet"},
	})
	require.NoError(t, err)
	done := wait(t, tr, e.ID)
	require.Equal(t, background.StatusCompleted, done.Status)

	var res background.TaskResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.Equal(t, "A finished draft", res.Result)
	assert.Equal(t, "Mika", res.PersonaName)
}
