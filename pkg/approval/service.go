package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/crewflow/pkg/director"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
)

// Director is the part of director.Workflow the service drives.
type Director interface {
	Start(ctx context.Context, req director.StartRequest) director.Result
	Resume(ctx context.Context, req director.ResumeRequest) director.Result
	State(ctx context.Context, threadID string) (director.State, []string, error)
	LinkApproval(ctx context.Context, threadID, requestID string) error
}

// StartRequest starts a director run that parks for approval.
type StartRequest struct {
	UserID string `json:"user_id"`
	director.StartRequest
}

// StartResult is the outcome of Start. ApprovalRequestID is set when the
// run parked.
type StartResult struct {
	director.Result
	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	PersonaName       string `json:"persona_name,omitempty"`
}

// DecisionResult is the outcome of a reviewer decision.
type DecisionResult struct {
	Success     bool     `json:"success"`
	Status      Status   `json:"status"`
	RequestID   string   `json:"request_id"`
	ThreadID    string   `json:"thread_id"`
	FinalResult string   `json:"final_result,omitempty"`
	OutputKind  string   `json:"output_kind,omitempty"`
	Feedback    string   `json:"feedback,omitempty"`
	Request     *Request `json:"request,omitempty"`
}

// ThreadState is the combined view of a parked or finished thread.
type ThreadState struct {
	ThreadID string         `json:"thread_id"`
	Next     []string       `json:"next"`
	State    director.State `json:"state"`
	Request  *Request       `json:"request,omitempty"`
}

// Service runs the approval lifecycle.
type Service struct {
	store    Store
	director Director
	events   event.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher sets where lifecycle events go.
func WithPublisher(p event.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source for reviewed_at.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store Store, d Director, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		director: d,
		events:   event.NopPublisher{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the director with approval required. When the run parks it
// records a pending Request and publishes approval_requested.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	dreq := req.StartRequest
	dreq.RequiresApproval = true
	if dreq.OutputKind == "" || dreq.OutputKind == director.OutputNone {
		dreq.OutputKind = director.OutputSlides
	}

	persona := dreq.Persona
	if persona.Name == "" {
		persona = director.DefaultPersona
	}

	res := s.director.Start(ctx, dreq)
	out := StartResult{Result: res, PersonaName: persona.Name}
	if !res.Success {
		return out, res.Err
	}
	if res.Status != director.StatusAwaitingApproval {
		return out, nil
	}

	r := &Request{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		ThreadID:      res.ThreadID,
		OutputKind:    string(dreq.OutputKind),
		PendingOutput: res.PendingOutput,
		PersonaName:   persona.Name,
		PersonaRole:   persona.Role,
		TaskSummary:   summarize(dreq.Task),
		Score:         res.Score,
		Critique:      res.Critique,
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return out, err
	}
	if err := s.director.LinkApproval(ctx, r.ThreadID, r.ID); err != nil {
		s.logger.Warn("link approval to thread failed",
			slog.String("thread_id", r.ThreadID),
			slog.String("error", err.Error()))
	}

	s.logger.Info("approval requested",
		slog.String("request_id", r.ID),
		slog.String("thread_id", r.ThreadID))
	s.publish(ctx, event.New(event.ApprovalRequested, "approval", r.UserID, r.ID,
		event.WithCorrelationID(r.ThreadID),
		event.WithTitle("Approval requested"),
		event.WithMessage(fmt.Sprintf("%s is waiting for review: %s", r.PersonaName, preview(r.TaskSummary, 50))),
		event.WithData(map[string]any{"thread_id": r.ThreadID, "output_kind": r.OutputKind})))

	out.ApprovalRequestID = r.ID
	return out, nil
}

// Approve accepts the pending output and finishes the run.
func (s *Service) Approve(ctx context.Context, id string) (DecisionResult, error) {
	return s.decide(ctx, id, Decision{Status: StatusApproved})
}

// Reject declines the pending output. The run ends without output.
func (s *Service) Reject(ctx context.Context, id, feedback string) (DecisionResult, error) {
	return s.decide(ctx, id, Decision{Status: StatusRejected, Feedback: feedback})
}

// Modify replaces the pending output with modifiedOutput and finishes
// the run.
func (s *Service) Modify(ctx context.Context, id, feedback, modifiedOutput string) (DecisionResult, error) {
	if strings.TrimSpace(modifiedOutput) == "" {
		return DecisionResult{}, &fgerrors.ValidationError{Field: "modified_output", Message: "required for a modified decision"}
	}
	return s.decide(ctx, id, Decision{Status: StatusModified, Feedback: feedback, ModifiedOutput: modifiedOutput})
}

// decide claims the request with a conditional transition, then resumes
// the parked thread with the same verdict. A request already decided the
// same way whose thread is still parked had its resume fail; it is resumed
// again with the recorded verdict.
func (s *Service) decide(ctx context.Context, id string, d Decision) (DecisionResult, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return DecisionResult{}, err
	}

	r := current
	switch {
	case current.Status == StatusPending:
		d.ReviewedAt = s.now().UTC()
		if r, err = s.store.Transition(ctx, id, d); err != nil {
			return DecisionResult{}, err
		}
		s.logger.Info("approval decided",
			slog.String("request_id", r.ID),
			slog.String("thread_id", r.ThreadID),
			slog.String("status", string(r.Status)))
	case current.Status == d.Status && s.awaitingResume(ctx, current):
		d = Decision{Status: current.Status, Feedback: current.HumanFeedback, ModifiedOutput: current.ModifiedOutput}
		s.logger.Warn("resuming thread of a decided approval",
			slog.String("request_id", r.ID),
			slog.String("thread_id", r.ThreadID),
			slog.String("status", string(r.Status)))
	default:
		return DecisionResult{}, fgerrors.Conflict("decide approval", "request %s already %s", id, current.Status)
	}

	// The verdict is recorded; finish it even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(slog.String("request_id", r.ID), slog.String("thread_id", r.ThreadID))

	res := s.director.Resume(ctx, director.ResumeRequest{
		ThreadID:       r.ThreadID,
		Decision:       d.Status.directorDecision(),
		Feedback:       d.Feedback,
		ModifiedOutput: d.ModifiedOutput,
	})
	if !res.Success {
		logger.Error("resume after decision failed", slog.String("error", res.Error))
		return DecisionResult{Status: r.Status, RequestID: r.ID, ThreadID: r.ThreadID, Request: r}, res.Err
	}

	s.publish(ctx, event.New(event.ApprovalDecided, "approval", r.UserID, r.ID,
		event.WithCorrelationID(r.ThreadID),
		event.WithTitle("Approval "+string(r.Status)),
		event.WithMessage(fmt.Sprintf("%s output %s", r.PersonaName, r.Status)),
		event.WithData(map[string]any{"thread_id": r.ThreadID, "status": string(r.Status)})))

	out := DecisionResult{
		Success:    true,
		Status:     r.Status,
		RequestID:  r.ID,
		ThreadID:   r.ThreadID,
		OutputKind: string(res.OutputKind),
		Feedback:   d.Feedback,
		Request:    r,
	}
	if r.Status != StatusRejected {
		out.FinalResult = res.FinalResult
	}
	return out, nil
}

// awaitingResume reports whether r's thread is still parked at human_review
// with either no verdict or r's verdict applied.
func (s *Service) awaitingResume(ctx context.Context, r *Request) bool {
	st, next, err := s.director.State(ctx, r.ThreadID)
	if err != nil || len(next) != 1 || next[0] != director.NodeHumanReview {
		return false
	}
	return st.ApprovalStatus == director.ApprovalPending || st.ApprovalStatus == r.Status.directorDecision()
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListPending returns pending requests, newest first, with previews.
func (s *Service) ListPending(ctx context.Context, userID string) ([]Request, error) {
	reqs, err := s.store.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i] = reqs[i].withPreview()
	}
	return reqs, nil
}

// State returns the director state of threadID with its request, if any.
func (s *Service) State(ctx context.Context, threadID string) (ThreadState, error) {
	st, next, err := s.director.State(ctx, threadID)
	if err != nil {
		return ThreadState{}, err
	}
	out := ThreadState{ThreadID: threadID, Next: next, State: st}
	if r, err := s.store.GetByThread(ctx, threadID); err == nil {
		out.Request = r
	}
	if out.Next == nil {
		out.Next = []string{}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event failed",
			slog.String("event_type", string(evt.Type)),
			slog.String("error", err.Error()))
	}
}

func summarize(task string) string {
	r := []rune(task)
	if len(r) > PreviewLimit {
		return string(r[:PreviewLimit])
	}
	return task
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
