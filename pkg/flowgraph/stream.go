package flowgraph

import (
	"iter"
	"sync/atomic"
)

// Step is one element of a run's stream: the state after a node completed,
// or the final parking notice when the run stops at an interrupt point.
type Step[S any] struct {
	// Node is the node that just executed, or Interrupt.
	Node string

	// State is the full state after Node.
	State S

	// Sequence is the checkpoint version written for this step.
	// Zero when the graph has no checkpointer.
	Sequence int

	// Pending names the parked node when Node is Interrupt.
	Pending string
}

// Interrupted reports whether this step parks the run.
func (s Step[S]) Interrupted() bool {
	return s.Node == Interrupt
}

// Stream is a lazy, single-use sequence of steps. Nothing executes until
// All is ranged over; breaking out of the loop stops the run after the
// current node, leaving its checkpoint in place.
type Stream[S any] struct {
	seq      iter.Seq2[Step[S], error]
	consumed atomic.Bool
}

func newStream[S any](seq iter.Seq2[Step[S], error]) *Stream[S] {
	return &Stream[S]{seq: seq}
}

// errStream returns a stream that yields a single error.
func errStream[S any](state S, err error) *Stream[S] {
	return newStream(func(yield func(Step[S], error) bool) {
		yield(Step[S]{State: state}, err)
	})
}

// All returns the step sequence. A failing run yields one final pair with
// a non-nil error whose Step carries the state at the point of failure.
// Ranging a second time yields ErrStreamConsumed.
func (s *Stream[S]) All() iter.Seq2[Step[S], error] {
	return func(yield func(Step[S], error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(Step[S]{}, ErrStreamConsumed)
			return
		}
		s.seq(yield)
	}
}

// drain consumes a stream and returns the last state and error.
func drain[S any](s *Stream[S], initial S) (S, error) {
	result := initial
	for step, err := range s.All() {
		if err != nil {
			return step.State, err
		}
		result = step.State
	}
	return result, nil
}
