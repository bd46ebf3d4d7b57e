package server

import (
	"net/http"
	"strings"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

type researchRequest struct {
	Question string `json:"question"`
}

func (s *Server) readQuestion(w http.ResponseWriter, r *http.Request) (string, error) {
	var req researchRequest
	if err := decode(w, r, &req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Question) == "" {
		return "", &fgerrors.ValidationError{Field: "question", Message: "must not be empty"}
	}
	return req.Question, nil
}

func (s *Server) handleResearchRun(w http.ResponseWriter, r *http.Request) {
	q, err := s.readQuestion(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Research.Run(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResearchStream(w http.ResponseWriter, r *http.Request) {
	q, err := s.readQuestion(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		defer s.deps.Metrics.streamOpened("research")()
	}
	streamSSE(w, r, s.logger, s.deps.Research.Stream(r.Context(), q))
}
