// Package notify turns lifecycle events into per-user notifications and
// an activity log.
package notify

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
)

// ErrNotFound is returned when a notification does not exist or belongs
// to another user.
var ErrNotFound = errors.New("notification not found")

// Default page sizes.
const (
	DefaultNotificationLimit = 50
	DefaultLogLimit          = 100
)

// Notification is a message shown to one user.
type Notification struct {
	ID        string      `json:"id" gorm:"primaryKey;size:36"`
	UserID    string      `json:"user_id" gorm:"size:64;index"`
	EventID   string      `json:"event_id" gorm:"size:36"`
	Type      event.Type  `json:"type" gorm:"size:32"`
	Level     event.Level `json:"level" gorm:"size:16"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Link      string      `json:"link,omitempty"`
	SubjectID string      `json:"subject_id" gorm:"size:64;index"`
	Read      bool        `json:"is_read" gorm:"index"`
	CreatedAt time.Time   `json:"created_at" gorm:"index"`
}

// TableName implements gorm's tabler.
func (Notification) TableName() string { return "notifications" }

// LogLevel is the severity of an activity log entry.
type LogLevel string

// Log levels.
const (
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// LogEntry records one lifecycle event in a user's activity log.
type LogEntry struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	UserID        string          `json:"user_id" gorm:"size:64;index"`
	Action        event.Type      `json:"action" gorm:"size:32;index"`
	Level         LogLevel        `json:"level" gorm:"size:16"`
	Message       string          `json:"message"`
	SubjectID     string          `json:"subject_id" gorm:"size:64;index"`
	CorrelationID string          `json:"correlation_id,omitempty" gorm:"size:64"`
	Details       json.RawMessage `json:"details,omitempty" gorm:"type:text"`
	CreatedAt     time.Time       `json:"created_at" gorm:"index"`
}

// TableName implements gorm's tabler.
func (LogEntry) TableName() string { return "activity_logs" }

func (l LogEntry) clone() LogEntry {
	l.Details = slices.Clone(l.Details)
	return l
}

// Query selects notifications.
type Query struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultNotificationLimit
	}
	return q.Limit
}

// LogQuery selects activity log entries.
type LogQuery struct {
	UserID    string
	SubjectID string
	Level     LogLevel
	Action    event.Type
	Limit     int
	Offset    int
}

func (q LogQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultLogLimit
	}
	return q.Limit
}

func (q LogQuery) matches(l LogEntry) bool {
	switch {
	case q.UserID != "" && l.UserID != q.UserID:
		return false
	case q.SubjectID != "" && l.SubjectID != q.SubjectID:
		return false
	case q.Level != "" && l.Level != q.Level:
		return false
	case q.Action != "" && l.Action != q.Action:
		return false
	}
	return true
}

// logLevelFor maps an event level onto the activity log scale.
func logLevelFor(level event.Level) LogLevel {
	switch level {
	case event.LevelError:
		return LogError
	case event.LevelWarning:
		return LogWarning
	default:
		return LogInfo
	}
}
