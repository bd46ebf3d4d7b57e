package server

import (
	"net/http"

	"github.com/randalmurphal/crewflow/pkg/approval"
	"github.com/randalmurphal/crewflow/pkg/director"
	"github.com/randalmurphal/crewflow/pkg/sink"
)

type decisionBody struct {
	Feedback       string `json:"feedback"`
	ModifiedOutput string `json:"modified_output"`
}

type decisionResponse struct {
	approval.DecisionResult
	Delivery *Delivery `json:"delivery,omitempty"`
}

type pendingResponse struct {
	Success  bool               `json:"success"`
	Requests []approval.Request `json:"requests"`
	Count    int                `json:"count"`
}

func (s *Server) handleApprovalStart(w http.ResponseWriter, r *http.Request) {
	var req approval.StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = userID(r)
	}
	res, err := s.deps.Approvals.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApprovalPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.deps.Approvals.ListPending(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, pendingResponse{Success: true, Requests: reqs, Count: len(reqs)})
}

func (s *Server) handleApprovalGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.Approvals.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprovalState(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Approvals.State(r.Context(), r.PathValue("thread"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleApprovalApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, r.PathValue("id"), director.ApprovalApproved, "", "")
}

func (s *Server) handleApprovalReject(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.decide(w, r, r.PathValue("id"), director.ApprovalRejected, body.Feedback, "")
}

func (s *Server) handleApprovalModify(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.decide(w, r, r.PathValue("id"), director.ApprovalModified, body.Feedback, body.ModifiedOutput)
}

// decide applies a verdict to approval request id and hands the approved
// output to its sink.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, id string, verdict director.ApprovalStatus, feedback, modified string) {
	ctx := r.Context()
	var (
		res approval.DecisionResult
		err error
	)
	switch verdict {
	case director.ApprovalApproved:
		res, err = s.deps.Approvals.Approve(ctx, id)
	case director.ApprovalRejected:
		res, err = s.deps.Approvals.Reject(ctx, id, feedback)
	default:
		res, err = s.deps.Approvals.Modify(ctx, id, feedback, modified)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := decisionResponse{DecisionResult: res}
	if res.Status != approval.StatusRejected {
		o := sink.Output{
			Kind:     res.OutputKind,
			ThreadID: res.ThreadID,
			Content:  res.FinalResult,
		}
		if res.Request != nil {
			o.UserID = res.Request.UserID
			o.Title = res.Request.TaskSummary
		}
		out.Delivery = s.deliver(ctx, o)
	}
	writeJSON(w, http.StatusOK, out)
}
