package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

// pass describes where one pass over a thread starts.
type pass[S any] struct {
	state    S
	start    string
	sequence int  // last checkpoint sequence written for the thread
	resumed  bool // the start node was pending; skip its interrupt check
	prevNode string
}

// Run executes the graph with the given initial state.
// It drives the graph until END or until the run parks before an interrupt
// node; check GetState(...).Next to tell the two apart.
//
// On error, returns the state at the point of failure (useful for debugging).
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initialState, flowgraph.WithThreadID("t-1"))
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}
	return drain(cg.Stream(ctx, state, opts...), state)
}

// Stream executes the graph lazily, yielding one Step per node executed
// and a final Step{Node: Interrupt} if the run parks.
//
// Example:
//
//	for step, err := range compiled.Stream(ctx, state, flowgraph.WithThreadID(id)).All() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(step.Node)
//	}
func (cg *CompiledGraph[S]) Stream(ctx Context, state S, opts ...RunOption) *Stream[S] {
	if ctx == nil {
		return errStream(state, ErrNilContext)
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cg.store != nil && cfg.threadID == "" {
		return errStream(state, ErrThreadIDRequired)
	}

	return newStream(func(yield func(Step[S], error) bool) {
		ec := asExecutionContext(ctx).withThreadID(cfg.threadID)

		// A thread that already has history continues its version sequence.
		seq := 0
		if cg.store != nil {
			_, latest, err := cg.store.Latest(ctx, ec.threadID)
			switch {
			case err == nil:
				seq = latest
			case !errors.Is(err, checkpoint.ErrNotFound):
				yield(Step[S]{State: state}, &CheckpointError{Op: "load", Err: err})
				return
			}
		}

		cg.execute(ec, pass[S]{state: state, start: cg.entryPoint, sequence: seq}, &cfg)(yield)
	})
}

// execute runs one pass with full observability.
func (cg *CompiledGraph[S]) execute(ec *executionContext, p pass[S], cfg *runConfig) iter.Seq2[Step[S], error] {
	return func(yield func(Step[S], error) bool) {
		threadID := ec.threadID
		elapsed := observability.StartTimer()
		observability.LogRunStart(cfg.logger, threadID, p.start)

		var tracingCtx context.Context = ec
		var runSpan trace.Span
		if cfg.tracingEnabled {
			tracingCtx, runSpan = cfg.spans.StartRunSpan(ec, cg.graphName, threadID)
		}

		state := p.state
		seq := p.sequence
		nodeCount := 0
		current := p.start
		prev := p.prevNode

		finish := func(err error, lastNode string) {
			took := elapsed()
			cfg.metrics.RecordGraphRun(tracingCtx, err == nil, took)
			if err != nil {
				observability.LogRunError(cfg.logger, threadID, err, took, lastNode)
			} else {
				observability.LogRunComplete(cfg.logger, threadID, took, nodeCount)
			}
			if cfg.tracingEnabled {
				cfg.spans.EndSpanWithError(runSpan, err)
			}
		}
		fail := func(err error, node string) {
			finish(err, node)
			yield(Step[S]{Node: node, State: state, Sequence: seq}, err)
		}
		park := func(node string) {
			observability.LogInterrupt(cfg.logger, threadID, node, seq)
			cfg.metrics.RecordInterrupt(tracingCtx, node)
			cfg.spans.AddSpanEvent(tracingCtx, "interrupt", observability.AttrNode.String(node))
			finish(nil, node)
			yield(Step[S]{Node: Interrupt, State: state, Sequence: seq, Pending: node}, nil)
		}

		// The entry itself may be an interrupt point.
		if !p.resumed && cg.interrupts[current] {
			seq++
			cp := checkpoint.New(threadID, "", seq, nil, current).
				WithSource(checkpoint.SourceInterrupt).
				WithPending(true)
			if err := cg.saveCheckpoint(tracingCtx, cfg, cp, state); err != nil {
				fail(err, current)
				return
			}
			park(current)
			return
		}

		iterations := 0
		for current != END {
			iterations++
			if iterations > cfg.maxIterations {
				fail(&MaxIterationsError{Max: cfg.maxIterations, LastNodeID: current, State: state}, current)
				return
			}

			if err := ec.Err(); err != nil {
				fail(&CancellationError{NodeID: current, State: state, Cause: err}, current)
				return
			}

			observability.LogNodeStart(cfg.logger, current)

			nodeTracingCtx := tracingCtx
			var nodeSpan trace.Span
			if cfg.tracingEnabled {
				nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
			}

			nodeElapsed := observability.StartTimer()
			next, nodeErr := cg.executeNode(ec.withStdContext(nodeTracingCtx), current, state)
			nodeDuration := nodeElapsed()

			cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
			if cfg.tracingEnabled {
				cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
			}

			state = next
			if nodeErr != nil {
				observability.LogNodeError(cfg.logger, current, nodeErr)
				fail(nodeErr, current)
				return
			}
			observability.LogNodeComplete(cfg.logger, current, nodeDuration)
			nodeCount++

			target, err := cg.nextNode(ec, state, current)
			if err != nil {
				fail(err, current)
				return
			}

			pending := target != END && cg.interrupts[target]

			if cg.store != nil {
				seq++
				cp := checkpoint.New(threadID, current, seq, nil, target).
					WithPrevNode(prev).
					WithPending(pending)
				if err := cg.saveCheckpoint(tracingCtx, cfg, cp, state); err != nil {
					fail(err, current)
					return
				}
			}

			if !yield(Step[S]{Node: current, State: state, Sequence: seqIf(cg.store != nil, seq)}, nil) {
				finish(nil, current)
				return
			}

			if pending {
				park(target)
				return
			}

			prev = current
			current = target
		}

		finish(nil, prev)
	}
}

func seqIf(ok bool, seq int) int {
	if ok {
		return seq
	}
	return 0
}

// saveCheckpoint serializes state into cp and persists it.
// Checkpoint failures are fatal: a lost version would break resume.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx context.Context, cfg *runConfig, cp *checkpoint.Checkpoint, state S) error {
	nodeID := cp.NodeID
	if nodeID == "" {
		nodeID = cp.NextNode
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		observability.LogCheckpointError(cfg.logger, nodeID, "serialize", err)
		return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: fmt.Errorf("%w: %v", ErrSerializeState, err)}
	}
	cp.State = stateBytes

	data, err := cp.Marshal()
	if err != nil {
		observability.LogCheckpointError(cfg.logger, nodeID, "marshal", err)
		return &CheckpointError{NodeID: nodeID, Op: "marshal", Err: err}
	}

	if err := cg.store.Save(ctx, cp.ThreadID, cp.Sequence, data); err != nil {
		observability.LogCheckpointError(cfg.logger, nodeID, "save", err)
		return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
	}

	observability.LogCheckpoint(cfg.logger, nodeID, cp.Sequence, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ec *executionContext, nodeID string, state S) (result S, err error) {
	fn, exists := cg.nodes[nodeID]
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(ec.withNodeID(nodeID), state)
	if err != nil {
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode determines the next node to execute.
func (cg *CompiledGraph[S]) nextNode(ec *executionContext, state S, current string) (next string, err error) {
	if ce, ok := cg.conditionalEdges[current]; ok {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{NodeID: current, Value: r, Stack: string(debug.Stack())}
			}
		}()

		name := ce.router(ec.withNodeID(current), state)
		target, mapped := ce.routes[name]
		if !mapped {
			return "", &RouterError{
				FromNode: current,
				Returned: name,
				Err:      ErrRouteNotMapped,
			}
		}
		return target, nil
	}

	target, ok := cg.edges[current]
	if !ok {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return target, nil
}
