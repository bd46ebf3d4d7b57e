package approval_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/crewflow/pkg/approval"
	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
)

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

// scriptedLLM drafts fixed text and scores every draft 85.
func scriptedLLM(draft string) llm.Client {
	return llm.ClientFunc(func(_ context.Context, system string, _ []llm.Message) (string, error) {
		if strings.Contains(system, "constructive director") {
			return `{"score": 85, "critique": "solid"}`, nil
		}
		return draft, nil
	})
}

type fixture struct {
	svc    *approval.Service
	store  approval.Store
	wf     *director.Workflow
	events *recorder
}

func newFixture(t *testing.T, client llm.Client, opts ...director.Option) fixture {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]director.Option{director.WithDelays(0, 0), director.WithLogger(quiet)}, opts...)
	wf, err := director.NewWorkflow(client, opts...)
	require.NoError(t, err)

	store := approval.NewMemoryStore()
	events := &recorder{}
	svc := approval.NewService(store, wf,
		approval.WithPublisher(events),
		approval.WithLogger(quiet),
		approval.WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }))
	return fixture{svc: svc, store: store, wf: wf, events: events}
}

func start(t *testing.T, f fixture) approval.StartResult {
	t.Helper()
	res, err := f.svc.Start(context.Background(), approval.StartRequest{
		UserID: "u1",
		StartRequest: director.StartRequest{
			Task:    "Draft the launch announcement",
			Persona: director.Persona{Name: "Flamey", Role: "writer"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, director.StatusAwaitingApproval, res.Status)
	require.NotEmpty(t, res.ApprovalRequestID)
	return res
}

func TestService_StartCreatesPendingRequest(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"))
	ctx := context.Background()

	res := start(t, f)

	assert.Equal(t, "launch copy", res.PendingOutput)
	assert.Equal(t, "Flamey", res.PersonaName)
	assert.Equal(t, 85, res.Score)

	r, err := f.svc.Get(ctx, res.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, r.Status)
	assert.Equal(t, res.ThreadID, r.ThreadID)
	assert.Equal(t, "u1", r.UserID)
	assert.Equal(t, "slides", r.OutputKind)
	assert.Equal(t, "launch copy", r.PendingOutput)
	assert.Equal(t, "Draft the launch announcement", r.TaskSummary)
	assert.Equal(t, "solid", r.Critique)
	assert.Nil(t, r.ReviewedAt)

	st, err := f.svc.State(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, []string{director.NodeHumanReview}, st.Next)
	assert.Equal(t, res.ApprovalRequestID, st.State.ApprovalRequestID)
	require.NotNil(t, st.Request)
	assert.Equal(t, res.ApprovalRequestID, st.Request.ID)

	assert.Equal(t, []event.Type{event.ApprovalRequested}, f.events.types())
}

func TestService_Approve(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"))
	ctx := context.Background()
	started := start(t, f)

	res, err := f.svc.Approve(ctx, started.ApprovalRequestID)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, approval.StatusApproved, res.Status)
	assert.Equal(t, "launch copy", res.FinalResult)
	assert.Equal(t, "slides", res.OutputKind)

	r, err := f.svc.Get(ctx, started.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, r.Status)
	require.NotNil(t, r.ReviewedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), *r.ReviewedAt)

	st, err := f.svc.State(ctx, started.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, st.Next)
	assert.True(t, st.State.IsComplete)

	_, err = f.svc.Approve(ctx, started.ApprovalRequestID)
	assert.ErrorIs(t, err, fgerrors.ErrStateConflict)
	_, err = f.svc.Reject(ctx, started.ApprovalRequestID, "too late")
	assert.ErrorIs(t, err, fgerrors.ErrStateConflict)

	assert.Equal(t, []event.Type{event.ApprovalRequested, event.ApprovalDecided}, f.events.types())
}

// reviewSaveFails fails the first checkpoint written after human_review runs.
type reviewSaveFails struct {
	checkpoint.Store
	fired atomic.Bool
}

func (s *reviewSaveFails) Save(ctx context.Context, threadID string, seq int, data []byte) error {
	if bytes.Contains(data, []byte(`"node_id":"human_review"`)) && s.fired.CompareAndSwap(false, true) {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, threadID, seq, data)
}

func TestService_ApproveOutlivesCaller(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"))
	started := start(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.svc.Approve(ctx, started.ApprovalRequestID)

	require.NoError(t, err)
	assert.Equal(t, "launch copy", res.FinalResult)

	r, err := f.svc.Get(context.Background(), started.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, r.Status)
	st, err := f.svc.State(context.Background(), started.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, st.Next)
	assert.True(t, st.State.IsComplete)
}

func TestService_ApproveRetriesFailedResume(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"),
		director.WithCheckpointer(&reviewSaveFails{Store: checkpoint.NewMemoryStore()}))
	ctx := context.Background()
	started := start(t, f)

	_, err := f.svc.Approve(ctx, started.ApprovalRequestID)
	require.Error(t, err)

	// The verdict is recorded but the thread is still parked.
	r, err := f.svc.Get(ctx, started.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, r.Status)
	st, err := f.svc.State(ctx, started.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, []string{director.NodeHumanReview}, st.Next)

	_, err = f.svc.Reject(ctx, started.ApprovalRequestID, "changed my mind")
	assert.ErrorIs(t, err, fgerrors.ErrStateConflict)

	res, err := f.svc.Approve(ctx, started.ApprovalRequestID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "launch copy", res.FinalResult)

	st, err = f.svc.State(ctx, started.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, st.Next)
	assert.True(t, st.State.IsComplete)
	assert.Equal(t, director.ApprovalApproved, st.State.ApprovalStatus)

	_, err = f.svc.Approve(ctx, started.ApprovalRequestID)
	assert.ErrorIs(t, err, fgerrors.ErrStateConflict)
	assert.Equal(t, []event.Type{event.ApprovalRequested, event.ApprovalDecided}, f.events.types())
}

func TestService_Reject(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"))
	ctx := context.Background()
	started := start(t, f)

	res, err := f.svc.Reject(ctx, started.ApprovalRequestID, "off brand")

	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, res.Status)
	assert.Empty(t, res.FinalResult)
	assert.Equal(t, "off brand", res.Feedback)

	st, err := f.svc.State(ctx, started.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, director.ApprovalRejected, st.State.ApprovalStatus)
	assert.Equal(t, "off brand", st.State.HumanFeedback)
	assert.Equal(t, approval.StatusRejected, st.Request.Status)
}

func TestService_Modify(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"))
	ctx := context.Background()
	started := start(t, f)

	_, err := f.svc.Modify(ctx, started.ApprovalRequestID, "tweak", "  ")
	var verr *fgerrors.ValidationError
	require.ErrorAs(t, err, &verr)

	r, err := f.svc.Get(ctx, started.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, r.Status)

	res, err := f.svc.Modify(ctx, started.ApprovalRequestID, "tweak", "edited copy")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusModified, res.Status)
	assert.Equal(t, "edited copy", res.FinalResult)
	assert.Equal(t, "edited copy", res.Request.ModifiedOutput)
}

func TestService_ConcurrentDecisionsHaveOneWinner(t *testing.T) {
	f := newFixture(t, scriptedLLM("launch copy"))
	started := start(t, f)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.svc.Approve(context.Background(), started.ApprovalRequestID)
			} else {
				_, errs[i] = f.svc.Reject(context.Background(), started.ApprovalRequestID, "no")
			}
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, fgerrors.ErrStateConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestService_NotFound(t *testing.T) {
	f := newFixture(t, scriptedLLM("x"))
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, "missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)
	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)
	_, err = f.svc.State(ctx, "director-missing")
	assert.Error(t, err)
}

func TestService_ListPendingPreviews(t *testing.T) {
	long := strings.Repeat("a", approval.PreviewLimit+50)
	f := newFixture(t, scriptedLLM(long))
	ctx := context.Background()
	first := start(t, f)
	second := start(t, f)

	_, err := f.svc.Approve(ctx, first.ApprovalRequestID)
	require.NoError(t, err)

	list, err := f.svc.ListPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ApprovalRequestID, list[0].ID)
	assert.Len(t, list[0].PendingOutput, approval.PreviewLimit+3)

	full, err := f.svc.Get(ctx, second.ApprovalRequestID)
	require.NoError(t, err)
	assert.Len(t, full.PendingOutput, approval.PreviewLimit+50)
}

func TestService_StartFailure(t *testing.T) {
	f := newFixture(t, llm.ClientFunc(func(context.Context, string, []llm.Message) (string, error) {
		return "", errors.New("model unavailable")
	}))

	res, err := f.svc.Start(context.Background(), approval.StartRequest{
		StartRequest: director.StartRequest{Task: "t"},
	})

	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.ApprovalRequestID)
	assert.Empty(t, f.events.types())
}

func TestService_StartValidation(t *testing.T) {
	f := newFixture(t, scriptedLLM("x"))
	_, err := f.svc.Start(context.Background(), approval.StartRequest{})
	var verr *fgerrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}
