package server

import (
	"net/http"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
	"github.com/randalmurphal/crewflow/pkg/notify"
)

type notificationsResponse struct {
	Success bool `json:"success"`
	notify.ListResult
}

type logsResponse struct {
	Success bool              `json:"success"`
	Logs    []notify.LogEntry `json:"logs"`
}

func (s *Server) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Notifier.List(r.Context(), userID(r), queryBool(r, "unread_only"))
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Notifications == nil {
		res.Notifications = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Success: true, ListResult: res})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Notifier.MarkRead(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleNotificationReadAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Notifier.MarkAllRead(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "marked": count})
}

func (s *Server) handleActivityLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", notify.DefaultLogLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	logs, err := s.deps.Notifier.Logs(r.Context(), notify.LogQuery{
		UserID:    userID(r),
		SubjectID: q.Get("subject_id"),
		Level:     notify.LogLevel(q.Get("level")),
		Action:    event.Type(q.Get("action")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []notify.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Success: true, Logs: logs})
}
