package event

import (
	"errors"
	"fmt"
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("bus is closed")

// EventError is a publish that failed for a specific event.
type EventError struct {
	EventID string
	Message string
	Err     error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.EventID, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.EventID, e.Message)
}

func (e *EventError) Unwrap() error { return e.Err }
