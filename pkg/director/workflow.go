package director

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/llm"
)

// Status is the outcome of a start or resume call.
type Status string

// Result statuses.
const (
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// StartRequest starts a director run.
type StartRequest struct {
	Task             string     `json:"task"`
	Persona          Persona    `json:"persona"`
	MaxRevisions     int        `json:"max_revisions"`
	RequiresApproval bool       `json:"requires_approval"`
	OutputKind       OutputKind `json:"output_kind"`
}

// ResumeRequest carries a reviewer decision for a parked run.
type ResumeRequest struct {
	ThreadID       string         `json:"thread_id"`
	Decision       ApprovalStatus `json:"decision"`
	Feedback       string         `json:"feedback,omitempty"`
	ModifiedOutput string         `json:"modified_output,omitempty"`
}

// Result is the caller-facing outcome. Failures are reported through
// Success and Error; Err keeps the original error for classification.
type Result struct {
	Success        bool           `json:"success"`
	Status         Status         `json:"status"`
	ThreadID       string         `json:"thread_id,omitempty"`
	PendingOutput  string         `json:"pending_output,omitempty"`
	FinalResult    string         `json:"final_result,omitempty"`
	Score          int            `json:"score"`
	ScoreSource    ScoreSource    `json:"score_source,omitempty"`
	Critique       string         `json:"critique,omitempty"`
	RevisionCount  int            `json:"revision_count"`
	OutputKind     OutputKind     `json:"output_kind,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	Error          string         `json:"error,omitempty"`
	Err            error          `json:"-"`
}

// Workflow runs the generate, reflect and review loop.
//
// Runs that need approval park before human_review; a reviewer decision
// resumes them through Resume. Runs without approval never park.
type Workflow struct {
	gated  *flowgraph.CompiledGraph[State]
	direct *flowgraph.CompiledGraph[State]
	nodes  *nodes
	cfg    workflowConfig

	// threads serializes resumes of the same thread.
	threads sync.Map
}

// NewWorkflow compiles the director graphs around client.
func NewWorkflow(client llm.Client, opts ...Option) (*Workflow, error) {
	if client == nil {
		return nil, errors.New("director: llm client is required")
	}

	cfg := defaultWorkflowConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = checkpoint.NewMemoryStore()
	}

	n := &nodes{
		client:        client,
		retry:         cfg.retry,
		revisionDelay: cfg.revisionDelay,
		reflectDelay:  cfg.reflectDelay,
		passingScore:  cfg.passingScore,
		metrics:       cfg.metrics,
	}

	compileOpts := []flowgraph.CompileOption{
		flowgraph.WithCheckpointer(cfg.store),
		flowgraph.WithGraphName("director"),
	}
	gated, err := buildGraph(n).InterruptBefore(NodeHumanReview).Compile(compileOpts...)
	if err != nil {
		return nil, fmt.Errorf("compile director graph: %w", err)
	}
	direct, err := buildGraph(n).Compile(compileOpts...)
	if err != nil {
		return nil, fmt.Errorf("compile director graph: %w", err)
	}

	return &Workflow{gated: gated, direct: direct, nodes: n, cfg: cfg}, nil
}

func buildGraph(n *nodes) *flowgraph.Graph[State] {
	return flowgraph.NewGraph[State]().
		AddNode(NodeGenerator, n.generate).
		AddNode(NodeReflector, n.reflect).
		AddNode(NodeHumanReview, humanReview).
		AddNode(NodeOutputPreparation, prepareOutput).
		SetEntry(NodeGenerator).
		AddEdge(NodeGenerator, NodeReflector).
		AddConditionalEdge(NodeReflector, afterReflect, map[string]string{
			routeRevise: NodeGenerator,
			routeReview: NodeHumanReview,
		}).
		AddConditionalEdge(NodeHumanReview, afterReview, map[string]string{
			routeOutput: NodeOutputPreparation,
			routeEnd:    flowgraph.END,
		}).
		AddEdge(NodeOutputPreparation, flowgraph.END)
}

// NewThreadID returns a fresh director thread identifier.
func NewThreadID() string {
	return "director-" + uuid.NewString()
}

// Validate checks a start request.
func (r StartRequest) Validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return &fgerrors.ValidationError{Field: "task", Message: "must not be empty"}
	}
	if r.MaxRevisions < 0 || r.MaxRevisions > MaxRevisionsLimit {
		return &fgerrors.ValidationError{Field: "max_revisions",
			Message: fmt.Sprintf("must be between 1 and %d", MaxRevisionsLimit)}
	}
	if r.OutputKind != "" && !r.OutputKind.Valid() {
		return &fgerrors.ValidationError{Field: "output_kind", Message: fmt.Sprintf("unknown kind %q", r.OutputKind)}
	}
	return nil
}

// Validate checks a resume request.
func (r ResumeRequest) Validate() error {
	if r.ThreadID == "" {
		return &fgerrors.ValidationError{Field: "thread_id", Message: "must not be empty"}
	}
	if !r.Decision.IsDecision() {
		return &fgerrors.ValidationError{Field: "decision",
			Message: fmt.Sprintf("must be approved, rejected or modified, got %q", r.Decision)}
	}
	if r.Decision == ApprovalModified && r.ModifiedOutput == "" && r.Feedback == "" {
		return &fgerrors.ValidationError{Field: "modified_output", Message: "required for a modified decision"}
	}
	return nil
}

// initialState validates req and builds the state for a new thread.
func (w *Workflow) initialState(req StartRequest) (State, error) {
	if err := req.Validate(); err != nil {
		return State{}, err
	}
	s := NewState(req.Task, req.Persona, req.MaxRevisions)
	s.RequiresApproval = req.RequiresApproval
	if req.OutputKind != "" {
		s.OutputKind = req.OutputKind
	}
	s.ThreadID = NewThreadID()
	return s, nil
}

func (w *Workflow) graphFor(s State) *flowgraph.CompiledGraph[State] {
	if s.RequiresApproval {
		return w.gated
	}
	return w.direct
}

// Topology describes the graph a run takes. The approval graph parks
// before human_review.
func (w *Workflow) Topology(requiresApproval bool) flowgraph.Topology {
	return w.graphFor(State{RequiresApproval: requiresApproval}).Topology()
}

func (w *Workflow) engineContext(ctx context.Context, threadID string) flowgraph.Context {
	return flowgraph.NewContext(ctx,
		flowgraph.WithLogger(w.cfg.logger),
		flowgraph.WithContextThreadID(threadID))
}

func (w *Workflow) runOptions(threadID string) []flowgraph.RunOption {
	opts := []flowgraph.RunOption{
		flowgraph.WithThreadID(threadID),
		flowgraph.WithObservabilityLogger(w.cfg.logger),
		flowgraph.WithMetricsRecorder(w.cfg.metrics),
	}
	return append(opts, w.cfg.runOpts...)
}

// drive consumes a run, calling onStep for every executed node. A parked
// run is marked pending so the stored state is the approval snapshot.
func (w *Workflow) drive(ctx context.Context, threadID string, initial State,
	stream *flowgraph.Stream[State], onStep func(flowgraph.Step[State]) bool,
) (State, bool, error) {
	last := initial
	parked := false
	for step, err := range stream.All() {
		if err != nil {
			return step.State, false, err
		}
		last = step.State
		if step.Interrupted() {
			parked = true
			continue
		}
		if onStep != nil && !onStep(step) {
			return last, false, context.Canceled
		}
	}

	if parked {
		snap, err := w.gated.UpdateState(ctx, threadID, func(s State) State {
			s.ApprovalStatus = ApprovalPending
			s.PendingOutput = s.result()
			return s
		})
		if err != nil {
			return last, false, err
		}
		last = snap.State
	}
	return last, parked, nil
}

// Start runs a new thread until it completes or parks for approval.
func (w *Workflow) Start(ctx context.Context, req StartRequest) Result {
	s, err := w.initialState(req)
	if err != nil {
		return errorResult("", err)
	}

	logger := w.cfg.logger.With(slog.String("thread_id", s.ThreadID))
	logger.Info("director run starting",
		slog.String("persona", s.Persona.Name),
		slog.Bool("requires_approval", s.RequiresApproval))

	g := w.graphFor(s)
	stream := g.Stream(w.engineContext(ctx, s.ThreadID), s, w.runOptions(s.ThreadID)...)
	final, parked, err := w.drive(ctx, s.ThreadID, s, stream, nil)
	if err != nil {
		logger.Error("director run failed", slog.String("error", err.Error()))
		return errorResult(s.ThreadID, err)
	}
	if parked {
		logger.Info("director run awaiting approval", slog.Int("score", final.Score))
	}
	return resultOf(final, parked)
}

// Resume applies a reviewer decision to a thread parked at human_review
// and runs it to the end. The run is detached from ctx's cancellation, so
// a dropped caller cannot strand a decided thread. A thread still parked
// with the same decision already recorded is driven again; any other
// thread that is not awaiting approval is a state conflict.
func (w *Workflow) Resume(ctx context.Context, req ResumeRequest) Result {
	if err := req.Validate(); err != nil {
		return errorResult(req.ThreadID, err)
	}
	ctx = context.WithoutCancel(ctx)

	unlock := w.lockThread(req.ThreadID)
	defer unlock()

	snap, err := w.gated.GetState(ctx, req.ThreadID)
	if err != nil {
		return errorResult(req.ThreadID, err)
	}
	status := snap.State.ApprovalStatus
	if !snap.Parked() || snap.Next[0] != NodeHumanReview || (status != ApprovalPending && status != req.Decision) {
		return errorResult(req.ThreadID, fgerrors.Conflict("resume",
			"thread %s is not awaiting approval (status %s)", req.ThreadID, status))
	}

	w.cfg.logger.Info("director run resuming",
		slog.String("thread_id", req.ThreadID),
		slog.String("decision", string(req.Decision)),
		slog.Bool("retry", status == req.Decision))

	if _, err := w.gated.UpdateState(ctx, req.ThreadID, func(s State) State {
		s.ApprovalStatus = req.Decision
		if req.Feedback != "" {
			s.HumanFeedback = req.Feedback
		}
		if req.Decision == ApprovalModified {
			s.ModifiedOutput = req.ModifiedOutput
		}
		return s
	}); err != nil {
		return errorResult(req.ThreadID, err)
	}

	stream := w.gated.ResumeStream(w.engineContext(ctx, req.ThreadID), req.ThreadID, w.runOptions(req.ThreadID)...)
	final, parked, err := w.drive(ctx, req.ThreadID, snap.State, stream, nil)
	if err != nil {
		return errorResult(req.ThreadID, err)
	}
	return resultOf(final, parked)
}

// State returns the persisted state of a thread and its pending nodes.
func (w *Workflow) State(ctx context.Context, threadID string) (State, []string, error) {
	snap, err := w.gated.GetState(ctx, threadID)
	if err != nil {
		return State{}, nil, err
	}
	return snap.State, snap.Next, nil
}

// LinkApproval records the approval request tracking a parked thread.
func (w *Workflow) LinkApproval(ctx context.Context, threadID, requestID string) error {
	_, err := w.gated.UpdateState(ctx, threadID, func(s State) State {
		s.ApprovalRequestID = requestID
		return s
	})
	return err
}

// GenerateOnce runs the generator alone, skipping review. The result
// scores 100 on success.
func (w *Workflow) GenerateOnce(ctx context.Context, task string, persona Persona) Result {
	s, err := w.initialState(StartRequest{Task: task, Persona: persona, MaxRevisions: 1})
	if err != nil {
		return errorResult("", err)
	}
	out, err := w.nodes.generate(w.engineContext(ctx, s.ThreadID), s)
	if err != nil {
		return errorResult(s.ThreadID, err)
	}
	return Result{
		Success:        true,
		Status:         StatusCompleted,
		ThreadID:       s.ThreadID,
		FinalResult:    out.Draft,
		Score:          100,
		ScoreSource:    SourceDefault,
		Critique:       "review skipped",
		RevisionCount:  out.RevisionCount,
		OutputKind:     out.OutputKind,
		ApprovalStatus: ApprovalNone,
	}
}

// lockThread serializes resumes of one thread. The entry is removed while
// still held, so a waiter that wakes on a retired mutex retries with the
// current one.
func (w *Workflow) lockThread(threadID string) (unlock func()) {
	for {
		v, _ := w.threads.LoadOrStore(threadID, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		if cur, ok := w.threads.Load(threadID); ok && cur == mu {
			return func() {
				w.threads.Delete(threadID)
				mu.Unlock()
			}
		}
		mu.Unlock()
	}
}

func resultOf(s State, parked bool) Result {
	r := Result{
		Success:        true,
		ThreadID:       s.ThreadID,
		Score:          s.Score,
		ScoreSource:    s.ScoreSource,
		Critique:       s.Critique,
		RevisionCount:  s.RevisionCount,
		OutputKind:     s.OutputKind,
		ApprovalStatus: s.ApprovalStatus,
	}
	switch {
	case parked:
		r.Status = StatusAwaitingApproval
		r.PendingOutput = s.PendingOutput
	case s.IsComplete:
		r.Status = StatusCompleted
		r.FinalResult = s.result()
	default:
		r.Status = StatusAwaitingApproval
		r.PendingOutput = s.PendingOutput
	}
	return r
}

func errorResult(threadID string, err error) Result {
	return Result{
		Success:  false,
		Status:   StatusError,
		ThreadID: threadID,
		Error:    err.Error(),
		Err:      err,
	}
}
