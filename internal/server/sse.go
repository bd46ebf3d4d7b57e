package server

import (
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
)

// streamSSE writes every event of seq as a "data: {json}" frame and
// flushes after each one. It stops when the client goes away.
func streamSSE[E any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, seq iter.Seq[E]) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for ev := range seq {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("encode stream event", slog.String("error", err.Error()))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("flush stream", slog.String("error", err.Error()))
			return
		}
		if r.Context().Err() != nil {
			return
		}
	}
}
