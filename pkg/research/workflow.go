package research

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
)

// ErrNoAnswer is returned when a run finishes without an answer.
var ErrNoAnswer = errors.New("research produced no output")

// Result is the outcome of a research run.
type Result struct {
	Success       bool     `json:"success"`
	Answer        string   `json:"answer"`
	SearchQueries []string `json:"search_queries"`
	Sources       []Source `json:"sources"`
	LoopCount     int      `json:"loop_count"`
	Error         string   `json:"error,omitempty"`
}

// Workflow runs the research loop.
type Workflow struct {
	graph *flowgraph.CompiledGraph[State]
	cfg   workflowConfig
}

// NewWorkflow compiles the research graph.
func NewWorkflow(client llm.Client, searcher Searcher, opts ...Option) (*Workflow, error) {
	if client == nil {
		return nil, errors.New("research: llm client is required")
	}
	if searcher == nil {
		return nil, errors.New("research: searcher is required")
	}

	cfg := defaultWorkflowConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n := &nodes{
		client:     client,
		searcher:   searcher,
		maxResults: cfg.maxResults,
		loopDelay:  cfg.loopDelay,
		writeDelay: cfg.writeDelay,
	}

	graph, err := flowgraph.NewGraph[State]().
		AddNode(NodeResearcher, n.research).
		AddNode(NodeWriter, n.write).
		SetEntry(NodeResearcher).
		AddConditionalEdge(NodeResearcher, afterResearch, map[string]string{
			routeSearch: NodeResearcher,
			routeWrite:  NodeWriter,
		}).
		AddEdge(NodeWriter, flowgraph.END).
		Compile(flowgraph.WithGraphName("research"))
	if err != nil {
		return nil, fmt.Errorf("compile research graph: %w", err)
	}
	return &Workflow{graph: graph, cfg: cfg}, nil
}

// Topology describes the research graph.
func (w *Workflow) Topology() flowgraph.Topology {
	return w.graph.Topology()
}

func (w *Workflow) steps(ctx context.Context, question string) iter.Seq2[flowgraph.Step[State], error] {
	id := "research-" + uuid.NewString()
	fctx := flowgraph.NewContext(ctx,
		flowgraph.WithLogger(w.cfg.logger.With(slog.String("run_id", id))),
		flowgraph.WithContextThreadID(id))
	opts := append([]flowgraph.RunOption{
		flowgraph.WithThreadID(id),
		flowgraph.WithObservabilityLogger(w.cfg.logger),
		flowgraph.WithMetricsRecorder(w.cfg.metrics),
	}, w.cfg.runOpts...)
	return w.graph.Stream(fctx, NewState(question, w.cfg.maxLoops), opts...).All()
}

// Run researches question to completion.
func (w *Workflow) Run(ctx context.Context, question string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{Error: "question must not be empty"}, errors.New("research: question must not be empty")
	}

	w.cfg.logger.Info("research starting", slog.String("question", truncate(question, 50)))
	var final State
	for step, err := range w.steps(ctx, question) {
		if err != nil {
			return Result{Error: err.Error()}, err
		}
		final = step.State
	}
	if final.FinalAnswer == "" {
		return Result{Error: ErrNoAnswer.Error()}, ErrNoAnswer
	}

	w.cfg.logger.Info("research complete",
		slog.Int("sources", len(final.Evidence)),
		slog.Int("loops", final.LoopCount))
	return resultOf(final), nil
}

func resultOf(s State) Result {
	return Result{
		Success:       true,
		Answer:        s.FinalAnswer,
		SearchQueries: s.SearchQueries,
		Sources:       s.Sources(),
		LoopCount:     s.LoopCount,
	}
}
