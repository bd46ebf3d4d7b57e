package server

import (
	"errors"
	"net/http"

	"github.com/randalmurphal/crewflow/pkg/approval"
	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/sink"
)

type directorResponse struct {
	director.Result
	Delivery *Delivery `json:"delivery,omitempty"`
}

type threadResponse struct {
	Success  bool           `json:"success"`
	ThreadID string         `json:"thread_id"`
	Next     []string       `json:"next"`
	State    director.State `json:"state"`
}

func resultError(res director.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Error)
}

func (s *Server) handleDirectorStart(w http.ResponseWriter, r *http.Request) {
	var req director.StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res := s.deps.Director.Start(r.Context(), req)
	if !res.Success {
		writeError(w, resultError(res))
		return
	}
	writeJSON(w, http.StatusOK, directorResponse{Result: res})
}

func (s *Server) handleDirectorStream(w http.ResponseWriter, r *http.Request) {
	var req director.StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		defer s.deps.Metrics.streamOpened("director")()
	}
	streamSSE(w, r, s.logger, s.deps.Director.Stream(r.Context(), req))
}

func (s *Server) handleDirectorState(w http.ResponseWriter, r *http.Request) {
	thread := r.PathValue("thread")
	st, next, err := s.deps.Director.State(r.Context(), thread)
	if err != nil {
		writeError(w, err)
		return
	}
	if next == nil {
		next = []string{}
	}
	writeJSON(w, http.StatusOK, threadResponse{Success: true, ThreadID: thread, Next: next, State: st})
}

// handleDirectorResume applies a decision to a parked thread. A thread
// tracked by a pending approval request is decided through the approval
// service so the request and the thread never disagree.
func (s *Server) handleDirectorResume(w http.ResponseWriter, r *http.Request) {
	var req director.ResumeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ThreadID = r.PathValue("thread")
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if s.deps.Approvals != nil {
		ts, err := s.deps.Approvals.State(r.Context(), req.ThreadID)
		if err != nil {
			writeError(w, err)
			return
		}
		if ts.Request != nil && ts.Request.Status == approval.StatusPending {
			s.decide(w, r, ts.Request.ID, req.Decision, req.Feedback, req.ModifiedOutput)
			return
		}
	}

	res := s.deps.Director.Resume(r.Context(), req)
	if !res.Success {
		writeError(w, resultError(res))
		return
	}
	out := directorResponse{Result: res}
	if res.Status == director.StatusCompleted && res.ApprovalStatus != director.ApprovalRejected {
		out.Delivery = s.deliver(r.Context(), sink.Output{
			Kind:     string(res.OutputKind),
			ThreadID: res.ThreadID,
			UserID:   userID(r),
			Content:  res.FinalResult,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
