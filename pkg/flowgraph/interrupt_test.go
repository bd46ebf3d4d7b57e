package flowgraph

import (
	"context"
	"testing"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileReview(t *testing.T, tracker *[]string) (*CompiledGraph[State], *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	compiled, err := reviewGraph(tracker).Compile(WithCheckpointer(store))
	require.NoError(t, err)
	return compiled, store
}

// TestInterrupt_ParksBeforeNode tests a run stops before the flagged node.
func TestInterrupt_ParksBeforeNode(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)
	ctx := testCtx()

	result, err := compiled.Run(ctx, State{}, WithThreadID("t1"))

	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, tracker)
	assert.Equal(t, []string{"draft"}, result.Progress)

	snap, err := compiled.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, snap.Parked())
	assert.Equal(t, []string{"review"}, snap.Next)
	assert.Equal(t, "draft", snap.NodeID)
	assert.Equal(t, 1, snap.Sequence)
	assert.Equal(t, checkpoint.SourceNode, snap.Source)
	assert.Equal(t, []string{"draft"}, snap.State.Progress)
}

// TestInterrupt_StreamFinalStep tests the stream ends with an interrupt notice.
func TestInterrupt_StreamFinalStep(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)

	var steps []Step[State]
	for step, err := range compiled.Stream(testCtx(), State{}, WithThreadID("t1")).All() {
		require.NoError(t, err)
		steps = append(steps, step)
	}

	require.Len(t, steps, 2)
	assert.Equal(t, "draft", steps[0].Node)
	assert.True(t, steps[1].Interrupted())
	assert.Equal(t, Interrupt, steps[1].Node)
	assert.Equal(t, "review", steps[1].Pending)
	assert.Equal(t, 1, steps[1].Sequence)
}

// TestInterrupt_ReviewLoop walks a full reject, update, approve cycle.
func TestInterrupt_ReviewLoop(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)
	ctx := testCtx()

	_, err := compiled.Run(ctx, State{}, WithThreadID("t1"))
	require.NoError(t, err)

	// Not approved: review routes back to draft, which parks again.
	_, err = compiled.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "review", "draft"}, tracker)

	snap, err := compiled.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, snap.Next)
	assert.Equal(t, 3, snap.Sequence)

	updated, err := compiled.UpdateState(ctx, "t1", func(s State) State {
		s.Approved = true
		return s
	})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Sequence)
	assert.Equal(t, checkpoint.SourceUpdate, updated.Source)
	assert.Equal(t, []string{"review"}, updated.Next)
	assert.True(t, updated.State.Approved)
	assert.Equal(t, []string{"draft", "review", "draft"}, tracker, "update runs no node")

	result, err := compiled.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, []string{"draft", "review", "draft", "review", "publish"}, result.Progress)

	snap, err = compiled.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, snap.Parked())
	assert.Equal(t, "publish", snap.NodeID)
	assert.Equal(t, 6, snap.Sequence)

	history, err := compiled.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 6)
	for i, info := range history {
		assert.Equal(t, i+1, info.Sequence)
	}
}

// TestInterrupt_ResumeNothingPending tests resuming a finished thread.
func TestInterrupt_ResumeNothingPending(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)
	ctx := testCtx()

	_, err := compiled.Run(ctx, State{Approved: true}, WithThreadID("t1"))
	require.NoError(t, err)
	_, err = compiled.Resume(ctx, "t1")
	require.NoError(t, err)

	_, err = compiled.Resume(ctx, "t1")
	assert.ErrorIs(t, err, ErrNothingPending)
}

// TestInterrupt_ResumeUnknownThread tests resume on a thread with no history.
func TestInterrupt_ResumeUnknownThread(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)

	_, err := compiled.Resume(testCtx(), "ghost")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = compiled.GetState(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = compiled.UpdateState(context.Background(), "ghost", func(s State) State { return s })
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

// TestInterrupt_EntryNode tests parking before any node runs.
func TestInterrupt_EntryNode(t *testing.T) {
	var tracker []string
	store := checkpoint.NewMemoryStore()
	compiled, err := NewGraph[State]().
		AddNode("approve", makeTrackingNode("approve", &tracker)).
		AddEdge("approve", END).
		SetEntry("approve").
		InterruptBefore("approve").
		Compile(WithCheckpointer(store))
	require.NoError(t, err)
	ctx := testCtx()

	var steps []Step[State]
	for step, err := range compiled.Stream(ctx, State{Output: "draft"}, WithThreadID("t1")).All() {
		require.NoError(t, err)
		steps = append(steps, step)
	}
	require.Len(t, steps, 1)
	assert.True(t, steps[0].Interrupted())
	assert.Equal(t, "approve", steps[0].Pending)
	assert.Empty(t, tracker)

	snap, err := compiled.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.SourceInterrupt, snap.Source)
	assert.Equal(t, []string{"approve"}, snap.Next)
	assert.Equal(t, "draft", snap.State.Output)
	assert.Empty(t, snap.NodeID)

	result, err := compiled.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"approve"}, tracker)
	assert.Equal(t, []string{"approve"}, result.Progress)
}

// TestInterrupt_UpdateStateNilPanics tests the nil update guard.
func TestInterrupt_UpdateStateNilPanics(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)

	assert.PanicsWithValue(t, "flowgraph: update function cannot be nil", func() {
		_, _ = compiled.UpdateState(context.Background(), "t1", nil)
	})
}

// TestInterrupt_UpdateFinishedThread tests updates keep a finished thread finished.
func TestInterrupt_UpdateFinishedThread(t *testing.T) {
	compiled := linearCounter(t, WithCheckpointer(checkpoint.NewMemoryStore()))
	ctx := testCtx()

	_, err := compiled.Run(ctx, Counter{}, WithThreadID("t1"))
	require.NoError(t, err)

	snap, err := compiled.UpdateState(ctx, "t1", func(c Counter) Counter {
		c.Value = 100
		return c
	})
	require.NoError(t, err)
	assert.False(t, snap.Parked())
	assert.Equal(t, 4, snap.Sequence)

	_, err = compiled.Resume(ctx, "t1")
	assert.ErrorIs(t, err, ErrNothingPending)
}

// TestInterrupt_ResumeStreamConsumed tests ResumeStream is single-use.
func TestInterrupt_ResumeStreamConsumed(t *testing.T) {
	var tracker []string
	compiled, _ := compileReview(t, &tracker)
	ctx := testCtx()

	_, err := compiled.Run(ctx, State{Approved: true}, WithThreadID("t1"))
	require.NoError(t, err)

	stream := compiled.ResumeStream(ctx, "t1")
	var nodes []string
	for step, err := range stream.All() {
		require.NoError(t, err)
		nodes = append(nodes, step.Node)
	}
	assert.Equal(t, []string{"review", "publish"}, nodes)

	for _, err := range stream.All() {
		assert.ErrorIs(t, err, ErrStreamConsumed)
	}
}
