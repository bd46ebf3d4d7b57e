package server

import (
	"net/http"
	"strings"

	"github.com/randalmurphal/crewflow/pkg/background"
)

type startedResponse struct {
	Success     bool              `json:"success"`
	ExecutionID string            `json:"execution_id"`
	Status      background.Status `json:"status"`
	Message     string            `json:"message"`
}

type listResponse struct {
	Success bool `json:"success"`
	background.ListResult
}

func (s *Server) handleBackgroundTask(w http.ResponseWriter, r *http.Request) {
	var p background.TaskPayload
	if err := decode(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	exec, err := s.deps.Background.StartTask(r.Context(), userID(r), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startedResponse{
		Success:     true,
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Message:     "task queued",
	})
}

func (s *Server) handleBackgroundProject(w http.ResponseWriter, r *http.Request) {
	var p background.ProjectPayload
	if err := decode(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	exec, err := s.deps.Background.StartProject(r.Context(), userID(r), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startedResponse{
		Success:     true,
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Message:     "project queued",
	})
}

// handleBackgroundList accepts status as a comma separated list or as a
// repeated parameter.
func (s *Server) handleBackgroundList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := background.ListFilter{UserID: userID(r), Limit: limit, Offset: offset}
	for _, raw := range r.URL.Query()["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filter.Statuses = append(filter.Statuses, background.Status(st))
			}
		}
	}

	res, err := s.deps.Background.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Executions == nil {
		res.Executions = []*background.Execution{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, ListResult: res})
}

func (s *Server) handleBackgroundGet(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Background.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleBackgroundCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Background.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
