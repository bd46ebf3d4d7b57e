package flowgraph

import (
	"errors"
	"fmt"
)

// Compile errors. Compile joins every problem it finds, so callers test
// with errors.Is.
var (
	ErrNoEntryPoint     = errors.New("entry point not set")
	ErrEntryNotFound    = errors.New("entry point node not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNoPathToEnd      = errors.New("no path to END from entry")
	ErrMultipleEdges    = errors.New("node has more than one outgoing edge")
	ErrConflictingEdges = errors.New("node has both simple and conditional edges")
)

// Run errors.
var (
	ErrMaxIterations  = errors.New("exceeded maximum iterations")
	ErrNilContext     = errors.New("context cannot be nil")
	ErrRouteNotMapped = errors.New("route not mapped")
	ErrStreamConsumed = errors.New("stream already consumed")
)

// Thread errors: checkpoints, state access and resume.
var (
	ErrNoCheckpointer            = errors.New("no checkpointer configured")
	ErrThreadIDRequired          = errors.New("thread ID required for checkpointing")
	ErrThreadNotFound            = errors.New("thread not found")
	ErrNothingPending            = errors.New("thread has no pending node")
	ErrSerializeState            = errors.New("failed to serialize state")
	ErrDeserializeState          = errors.New("failed to deserialize state")
	ErrInvalidResumeNode         = errors.New("invalid resume node")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// NodeError is a node step that failed. Op is "execute" for a node's own
// error, "lookup" or "routing" for a graph that cannot continue.
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is a recovered panic from a node or router. Stack is the
// goroutine stack at the point of recovery.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// RouterError is a router picking a route its table does not map.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// CancellationError reports a context that ended between nodes. NodeID
// did not run; State is the state handed to it, as the run's S.
type CancellationError struct {
	NodeID string
	State  any
	Cause  error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// MaxIterationsError stops a pass that executed Max nodes without reaching
// END or an interrupt. It matches ErrMaxIterations.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error { return ErrMaxIterations }

// CheckpointError is a failed checkpoint step: serialize, marshal, save
// or load. NodeID is empty for loads.
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
