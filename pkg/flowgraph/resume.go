package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

// Snapshot is the last persisted view of a thread.
type Snapshot[S any] struct {
	ThreadID string

	// State is the state as of the latest checkpoint.
	State S

	// Next holds the pending node when the thread is parked, else empty.
	Next []string

	// NodeID is the last node that executed, empty for update or entry checkpoints.
	NodeID string

	Sequence  int
	Source    checkpoint.Source
	Timestamp time.Time
}

// Parked reports whether the thread awaits Resume.
func (s Snapshot[S]) Parked() bool {
	return len(s.Next) > 0
}

// GetState returns the latest persisted state of a thread and its pending
// nodes. Returns ErrThreadNotFound for unknown threads.
func (cg *CompiledGraph[S]) GetState(ctx context.Context, threadID string) (Snapshot[S], error) {
	cp, state, err := cg.loadLatest(ctx, threadID)
	if err != nil {
		return Snapshot[S]{}, err
	}
	return snapshotOf(cp, state), nil
}

// UpdateState applies update to the latest persisted state without
// executing any node, writing a new version that keeps the same pending node.
//
// Example:
//
//	snap, err := compiled.UpdateState(ctx, id, func(s State) State {
//	    s.Decision = "approved"
//	    return s
//	})
func (cg *CompiledGraph[S]) UpdateState(ctx context.Context, threadID string, update func(S) S) (Snapshot[S], error) {
	if update == nil {
		panic("flowgraph: update function cannot be nil")
	}

	cp, state, err := cg.loadLatest(ctx, threadID)
	if err != nil {
		return Snapshot[S]{}, err
	}

	state = update(state)

	next := checkpoint.New(threadID, "", cp.Sequence+1, nil, cp.NextNode).
		WithSource(checkpoint.SourceUpdate).
		WithPending(cp.Pending).
		WithPrevNode(cp.NodeID)

	cfg := defaultRunConfig()
	if err := cg.saveCheckpoint(ctx, &cfg, next, state); err != nil {
		return Snapshot[S]{}, err
	}
	return snapshotOf(next, state), nil
}

// History lists every checkpoint version of a thread, oldest first.
func (cg *CompiledGraph[S]) History(ctx context.Context, threadID string) ([]checkpoint.Info, error) {
	if cg.store == nil {
		return nil, ErrNoCheckpointer
	}
	return cg.store.List(ctx, threadID)
}

// Resume continues a parked thread: it re-enters exactly the pending node,
// skipping that node's interrupt check, and runs until END or the next
// interrupt. Returns ErrNothingPending if the thread is not parked.
//
// Example:
//
//	// Run parked before "review"; a reviewer updated the state
//	result, err := compiled.Resume(ctx, "director-123")
func (cg *CompiledGraph[S]) Resume(ctx Context, threadID string, opts ...RunOption) (S, error) {
	var zero S
	if ctx == nil {
		return zero, ErrNilContext
	}
	return drain(cg.ResumeStream(ctx, threadID, opts...), zero)
}

// ResumeStream is the streaming form of Resume.
func (cg *CompiledGraph[S]) ResumeStream(ctx Context, threadID string, opts ...RunOption) *Stream[S] {
	var zero S
	if ctx == nil {
		return errStream(zero, ErrNilContext)
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return newStream(func(yield func(Step[S], error) bool) {
		cp, state, err := cg.loadLatest(ctx, threadID)
		if err != nil {
			yield(Step[S]{}, err)
			return
		}

		if !cp.Pending || cp.NextNode == "" || cp.NextNode == END {
			yield(Step[S]{State: state, Sequence: cp.Sequence}, fmt.Errorf("%w: %s", ErrNothingPending, threadID))
			return
		}
		if !cg.HasNode(cp.NextNode) {
			yield(Step[S]{State: state, Sequence: cp.Sequence}, fmt.Errorf("%w: %s", ErrInvalidResumeNode, cp.NextNode))
			return
		}

		observability.LogResume(cfg.logger, threadID, cp.NextNode, cp.Sequence)

		ec := asExecutionContext(ctx).withThreadID(threadID)
		cg.execute(ec, pass[S]{
			state:    state,
			start:    cp.NextNode,
			sequence: cp.Sequence,
			resumed:  true,
			prevNode: cp.NodeID,
		}, &cfg)(yield)
	})
}

// loadLatest reads and decodes the newest checkpoint of a thread.
func (cg *CompiledGraph[S]) loadLatest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, S, error) {
	var zero S

	if cg.store == nil {
		return nil, zero, ErrNoCheckpointer
	}

	data, _, err := cg.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, zero, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, zero, &CheckpointError{Op: "load", Err: err}
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cp.Version != checkpoint.Version {
		return nil, zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	return cp, state, nil
}

func snapshotOf[S any](cp *checkpoint.Checkpoint, state S) Snapshot[S] {
	return Snapshot[S]{
		ThreadID:  cp.ThreadID,
		State:     state,
		Next:      cp.Next(),
		NodeID:    cp.NodeID,
		Sequence:  cp.Sequence,
		Source:    cp.Source,
		Timestamp: cp.Timestamp,
	}
}
