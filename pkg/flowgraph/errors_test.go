package flowgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorMessages tests the formatted error strings.
func TestErrorMessages(t *testing.T) {
	inner := errors.New("inner")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"node", &NodeError{NodeID: "a", Op: "execute", Err: inner}, "node a: execute: inner"},
		{"panic", &PanicError{NodeID: "a", Value: "boom"}, "node a panicked: boom"},
		{"cancel", &CancellationError{NodeID: "b", Cause: context.Canceled}, "cancelled before node b: context canceled"},
		{"router", &RouterError{FromNode: "r", Returned: "x", Err: ErrRouteNotMapped}, `router from r returned "x": route not mapped`},
		{"max", &MaxIterationsError{Max: 5, LastNodeID: "loop"}, "exceeded maximum iterations (5) at node loop"},
		{"checkpoint", &CheckpointError{NodeID: "a", Op: "save", Err: inner}, "checkpoint save at node a: inner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

// TestErrorUnwrap tests errors.Is through every wrapper type.
func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")

	assert.ErrorIs(t, &NodeError{Err: inner}, inner)
	assert.ErrorIs(t, &CheckpointError{Err: inner}, inner)
	assert.ErrorIs(t, &RouterError{Err: ErrRouteNotMapped}, ErrRouteNotMapped)
	assert.ErrorIs(t, &CancellationError{Cause: context.DeadlineExceeded}, context.DeadlineExceeded)
	assert.ErrorIs(t, &MaxIterationsError{}, ErrMaxIterations)

	wrapped := fmt.Errorf("outer: %w", &NodeError{NodeID: "a", Err: inner})
	var nodeErr *NodeError
	assert.ErrorAs(t, wrapped, &nodeErr)
	assert.Equal(t, "a", nodeErr.NodeID)
}

// TestSentinelErrors_Distinct tests sentinels do not alias each other.
func TestSentinelErrors_Distinct(t *testing.T) {
	sentinels := []error{
		ErrNoEntryPoint, ErrEntryNotFound, ErrNodeNotFound, ErrNoPathToEnd,
		ErrMultipleEdges, ErrConflictingEdges, ErrMaxIterations, ErrNilContext,
		ErrRouteNotMapped, ErrStreamConsumed, ErrNoCheckpointer, ErrThreadIDRequired,
		ErrThreadNotFound, ErrNothingPending, ErrSerializeState, ErrDeserializeState,
		ErrInvalidResumeNode, ErrCheckpointVersionMismatch,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.NotErrorIs(t, a, b)
			}
		}
	}
}
