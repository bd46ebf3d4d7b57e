package errors

import (
	"fmt"
	"strings"
)

// StatusError is a non-2xx reply from a remote HTTP service.
// 429 and 529 classify as KindRateLimited.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.Status, body)
}

// ParseError is model output that did not match the expected shape.
type ParseError struct {
	What   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.What, e.Reason)
}

// ValidationError rejects caller input before any work starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
