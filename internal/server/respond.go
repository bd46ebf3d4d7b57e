package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/randalmurphal/crewflow/pkg/approval"
	"github.com/randalmurphal/crewflow/pkg/background"
	"github.com/randalmurphal/crewflow/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/crewflow/pkg/notify"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// badRequest marks a malformed request body or query parameter.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and writes a failure body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), failure{Error: err.Error()})
}

func statusOf(err error) int {
	var validation *fgerrors.ValidationError
	var malformed badRequest
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &malformed):
		return http.StatusBadRequest
	case errors.Is(err, flowgraph.ErrThreadNotFound),
		errors.Is(err, approval.ErrNotFound),
		errors.Is(err, background.ErrNotFound),
		errors.Is(err, notify.ErrNotFound):
		return http.StatusNotFound
	case fgerrors.IsStateConflict(err):
		return http.StatusConflict
	case errors.Is(err, background.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest{fmt.Errorf("invalid JSON body: %w", err)}
	}
	return nil
}

// userID reads the caller from X-User-ID or the user_id query parameter.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return defaultUser
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest{fmt.Errorf("%s must be a non-negative integer", key)}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
