package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

// Lifecycle event types.
const (
	TaskStarted        Type = "task_started"
	ProjectStarted     Type = "project_started"
	ProjectCompleted   Type = "project_completed"
	TaskCompleted      Type = "task_completed"
	ExecutionFailed    Type = "execution_failed"
	ExecutionCancelled Type = "execution_cancelled"
	ApprovalRequested  Type = "approval_requested"
	ApprovalDecided    Type = "approval_decided"
)

// Level is the severity a consumer should present an event with.
type Level string

// Event levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is an immutable record of something that happened to a subject
// (an execution or approval request) owned by a user.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Source        string         `json:"source"`
	UserID        string         `json:"user_id"`
	SubjectID     string         `json:"subject_id"`
	CorrelationID string         `json:"correlation_id"`
	Level         Level          `json:"level"`
	Title         string         `json:"title,omitempty"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Option configures event creation.
type Option func(*Event)

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithCorrelationID sets the correlation ID (default: the subject ID).
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t
	}
}

// WithLevel overrides the level implied by the event type.
func WithLevel(level Level) Option {
	return func(e *Event) {
		e.Level = level
	}
}

// WithTitle sets a short human-readable title.
func WithTitle(title string) Option {
	return func(e *Event) {
		e.Title = title
	}
}

// WithMessage sets the human-readable body.
func WithMessage(msg string) Option {
	return func(e *Event) {
		e.Message = msg
	}
}

// WithData attaches structured details.
func WithData(data map[string]any) Option {
	return func(e *Event) {
		e.Data = data
	}
}

// New creates an event of the given type about subjectID.
func New(typ Type, source, userID, subjectID string, opts ...Option) Event {
	evt := Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Source:    source,
		UserID:    userID,
		SubjectID: subjectID,
		Level:     DefaultLevel(typ),
		Timestamp: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(&evt)
	}

	if evt.CorrelationID == "" {
		evt.CorrelationID = evt.SubjectID
	}
	return evt
}

// DefaultLevel returns the level an event type is presented with.
func DefaultLevel(typ Type) Level {
	switch typ {
	case ProjectCompleted, TaskCompleted:
		return LevelSuccess
	case ExecutionFailed:
		return LevelError
	case ExecutionCancelled, ApprovalRequested:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Handler processes a delivered event.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the send side of a Bus. Services depend on this.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
