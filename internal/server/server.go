// Package server exposes the director, approval, research, background and
// notification services over HTTP.
//
// All responses are JSON. Failures carry {"success": false, "error": ...}
// with the status derived from the error kind. Streaming endpoints send
// server-sent events, one JSON object per data frame.
package server

import (
	"context"
	"iter"
	"log/slog"
	"net/http"

	"github.com/randalmurphal/crewflow/pkg/approval"
	"github.com/randalmurphal/crewflow/pkg/background"
	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/notify"
	"github.com/randalmurphal/crewflow/pkg/research"
	"github.com/randalmurphal/crewflow/pkg/sink"
)

// defaultUser is the caller when a request names none.
const defaultUser = "default"

// Director is the part of director.Workflow the server drives.
type Director interface {
	Start(ctx context.Context, req director.StartRequest) director.Result
	Resume(ctx context.Context, req director.ResumeRequest) director.Result
	State(ctx context.Context, threadID string) (director.State, []string, error)
	Stream(ctx context.Context, req director.StartRequest) iter.Seq[director.Event]
}

// Researcher is the part of research.Workflow the server drives.
type Researcher interface {
	Run(ctx context.Context, question string) (research.Result, error)
	Stream(ctx context.Context, question string) iter.Seq[research.Event]
}

// Deps are the services behind the routes. Routes of a nil service are
// not registered.
type Deps struct {
	Director   Director
	Approvals  *approval.Service
	Research   Researcher
	Background *background.Tracker
	Notifier   *notify.Notifier
	Sinks      *sink.Registry
	Metrics    *Metrics
	Logger     *slog.Logger

	// CORSOrigins lists allowed origins. Empty disables CORS headers.
	CORSOrigins []string
}

// Server routes HTTP requests to the services.
type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server and registers its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sinks == nil {
		deps.Sinks = sink.Default(deps.Logger)
	}
	s := &Server{
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "http")),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	m := s.mux
	m.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		m.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	if s.deps.Director != nil {
		m.HandleFunc("POST /api/director/start", s.handleDirectorStart)
		m.HandleFunc("POST /api/director/stream", s.handleDirectorStream)
		m.HandleFunc("GET /api/director/{thread}", s.handleDirectorState)
		m.HandleFunc("POST /api/director/{thread}/resume", s.handleDirectorResume)
	}

	if s.deps.Approvals != nil {
		m.HandleFunc("POST /api/approval/start", s.handleApprovalStart)
		m.HandleFunc("GET /api/approval/pending", s.handleApprovalPending)
		m.HandleFunc("GET /api/approval/state/{thread}", s.handleApprovalState)
		m.HandleFunc("GET /api/approval/{id}", s.handleApprovalGet)
		m.HandleFunc("POST /api/approval/{id}/approve", s.handleApprovalApprove)
		m.HandleFunc("POST /api/approval/{id}/reject", s.handleApprovalReject)
		m.HandleFunc("POST /api/approval/{id}/modify", s.handleApprovalModify)
	}

	if s.deps.Research != nil {
		m.HandleFunc("POST /api/research", s.handleResearchRun)
		m.HandleFunc("POST /api/research/stream", s.handleResearchStream)
	}

	if s.deps.Background != nil {
		m.HandleFunc("POST /api/background/task", s.handleBackgroundTask)
		m.HandleFunc("POST /api/background/project", s.handleBackgroundProject)
		m.HandleFunc("GET /api/background", s.handleBackgroundList)
		m.HandleFunc("GET /api/background/{id}", s.handleBackgroundGet)
		m.HandleFunc("POST /api/background/{id}/cancel", s.handleBackgroundCancel)
	}

	if s.deps.Notifier != nil {
		m.HandleFunc("GET /api/notifications", s.handleNotificationList)
		m.HandleFunc("POST /api/notifications/read-all", s.handleNotificationReadAll)
		m.HandleFunc("POST /api/notifications/{id}/read", s.handleNotificationRead)
		m.HandleFunc("GET /api/notifications/logs", s.handleActivityLogs)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []Middleware{Recovery(s.logger), Observe(s.logger, s.deps.Metrics)}
	if len(s.deps.CORSOrigins) > 0 {
		mws = append([]Middleware{CORS(s.deps.CORSOrigins)}, mws...)
	}
	return Chain(s.mux, mws...)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delivery reports the sink hand-off of an approved output.
type Delivery struct {
	Delivered bool            `json:"delivered"`
	Reference *sink.Reference `json:"reference,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// deliver hands an approved output to its sink. Failures are logged and
// reported, never returned.
func (s *Server) deliver(ctx context.Context, out sink.Output) *Delivery {
	if out.Kind == "" || out.Kind == string(director.OutputNone) {
		return nil
	}
	ref, err := s.deps.Sinks.Dispatch(ctx, out)
	if s.deps.Metrics != nil {
		s.deps.Metrics.delivered(out.Kind, err)
	}
	if err != nil {
		s.logger.Warn("output delivery failed",
			slog.String("thread_id", out.ThreadID),
			slog.String("output_kind", out.Kind),
			slog.String("error", err.Error()))
		return &Delivery{Error: err.Error()}
	}
	return &Delivery{Delivered: true, Reference: &ref}
}
