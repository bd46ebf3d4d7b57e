/*
Package flowgraph runs typed state through a directed graph of nodes, with
conditional routing, versioned checkpoints per thread and human review
interrupts. The director and research workflows are built on it.

# Graphs

Nodes are functions from state to state. Edges are either fixed or picked
by a router that returns a route name, which the route table maps to a
node or END:

	type Draft struct {
		Task     string
		Text     string
		Score    int
		Revision int
		Approved bool
	}

	compiled, err := flowgraph.NewGraph[Draft]().
		AddNode("generate", generate).
		AddNode("reflect", reflect).
		AddNode("finalize", finalize).
		AddEdge("generate", "reflect").
		AddConditionalEdge("reflect", func(_ flowgraph.Context, d Draft) string {
			if d.Score >= 85 || d.Revision >= 3 {
				return "done"
			}
			return "revise"
		}, map[string]string{"done": "finalize", "revise": "generate"}).
		AddEdge("finalize", flowgraph.END).
		SetEntry("generate").
		Compile()

	out, err := compiled.Run(flowgraph.NewContext(ctx), Draft{Task: "Write the launch note"})

Compile reports every structural problem at once, joined: a missing
entry, an edge or route into an unknown node, a node with both fixed and
conditional edges, or no path to END. A router returning an unmapped name
fails the run with a RouterError wrapping ErrRouteNotMapped. Loops are
bounded by WithMaxIterations (default 1000 nodes per pass).

# Threads and checkpoints

With WithCheckpointer every executed node saves a new version of the
thread's state under the next sequence number. A thread ID is then
required:

	store, err := checkpoint.NewSQLiteStore("checkpoints.db")
	compiled, err := graph.Compile(flowgraph.WithCheckpointer(store))
	out, err := compiled.Run(ctx, d, flowgraph.WithThreadID("director-42"))

History lists every version of a thread; GetState returns the latest.

# Human review

InterruptBefore parks a thread before a node. The pass returns without
error, and the snapshot names the pending node until someone resumes it:

	graph.InterruptBefore("human_review")

	snap, err := compiled.GetState(ctx, "director-42")
	if snap.Parked() {
		_, err = compiled.UpdateState(ctx, "director-42", func(d Draft) Draft {
			d.Approved = true
			return d
		})
		out, err = compiled.Resume(ctx, "director-42")
	}

Resume re-enters exactly the pending node. Resuming a thread that is not
parked returns ErrNothingPending.

# Streaming

Stream and ResumeStream yield the state after each node, then a final
Interrupt step when the pass parks. A Stream is ranged once, by one
goroutine:

	for step, err := range compiled.Stream(ctx, d, flowgraph.WithThreadID(id)).All() {
		if err != nil {
			return err
		}
		if step.Interrupted() {
			fmt.Println("awaiting", step.Pending)
		}
	}

# Failures

A node error comes back as *NodeError, a recovered panic as *PanicError
with the stack, a context that ends between nodes as *CancellationError
carrying the last state, and a runaway loop as *MaxIterationsError.
Checkpoint failures are *CheckpointError.

# Observability

WithObservabilityLogger logs each node with thread_id, node_id,
duration_ms and sequence. WithMetrics and WithTracing record through the
global OpenTelemetry providers; WithMetricsRecorder and WithSpanManager
take explicit ones. Spans nest flowgraph.node.<id> under flowgraph.run.

# Concurrency

A Graph is built on one goroutine. A CompiledGraph, a Context and every
checkpoint.Store are safe for concurrent use.

# Subpackages

  - checkpoint: checkpoint stores (memory, SQLite, Redis)
  - errors: failure kinds and retry with backoff
  - observability: logging, metrics and tracing helpers
  - signal: cancellation marks checked between steps
  - event: in-process lifecycle event bus
  - llm: model client, Anthropic transport and mock
  - config: file and environment configuration
  - template: {key} placeholder expansion
  - registry: concurrent keyed lookup table
*/
package flowgraph
