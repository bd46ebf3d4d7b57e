package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/event"
)

// notifiable lists the event types that reach a user's inbox. Every
// event is written to the activity log.
var notifiable = map[event.Type]bool{
	event.ProjectCompleted:   true,
	event.TaskCompleted:      true,
	event.ExecutionFailed:    true,
	event.ExecutionCancelled: true,
	event.ApprovalRequested:  true,
	event.ApprovalDecided:    true,
}

// ListResult is a page of notifications with the unread total.
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

// Notifier records lifecycle events for users.
type Notifier struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the notifier logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNotifier creates a Notifier over store.
func NewNotifier(store Store, opts ...Option) *Notifier {
	n := &Notifier{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Attach subscribes the notifier to every event on bus.
func (n *Notifier) Attach(bus event.Bus) (event.Subscription, error) {
	return bus.SubscribeAll(n.Handle)
}

// Handle writes an activity log entry for evt and, for user-facing
// types, a notification.
func (n *Notifier) Handle(ctx context.Context, evt event.Event) error {
	if evt.UserID == "" {
		n.logger.Debug("event without user skipped", slog.String("event_type", string(evt.Type)))
		return nil
	}

	entry := &LogEntry{
		ID:            uuid.NewString(),
		UserID:        evt.UserID,
		Action:        evt.Type,
		Level:         logLevelFor(evt.Level),
		Message:       messageOf(evt),
		SubjectID:     evt.SubjectID,
		CorrelationID: evt.CorrelationID,
		CreatedAt:     evt.Timestamp,
	}
	if len(evt.Data) > 0 {
		raw, err := json.Marshal(evt.Data)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
		entry.Details = raw
	}
	if err := n.store.AddLog(ctx, entry); err != nil {
		return err
	}

	if !notifiable[evt.Type] {
		return nil
	}
	note := &Notification{
		ID:        uuid.NewString(),
		UserID:    evt.UserID,
		EventID:   evt.ID,
		Type:      evt.Type,
		Level:     evt.Level,
		Title:     evt.Title,
		Message:   evt.Message,
		Link:      linkFor(evt),
		SubjectID: evt.SubjectID,
		CreatedAt: evt.Timestamp,
	}
	if note.Title == "" {
		note.Title = string(evt.Type)
	}
	if err := n.store.AddNotification(ctx, note); err != nil {
		return err
	}

	n.logger.Debug("notification created",
		slog.String("user_id", note.UserID),
		slog.String("type", string(note.Type)),
		slog.String("subject_id", note.SubjectID))
	return nil
}

// List returns a user's notifications, newest first.
func (n *Notifier) List(ctx context.Context, userID string, unreadOnly bool) (ListResult, error) {
	items, err := n.store.Notifications(ctx, Query{UserID: userID, UnreadOnly: unreadOnly})
	if err != nil {
		return ListResult{}, err
	}
	unread, err := n.store.UnreadCount(ctx, userID)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Notifications: items, UnreadCount: unread}, nil
}

// MarkRead marks one of the user's notifications read.
func (n *Notifier) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	return n.store.MarkRead(ctx, id, userID)
}

// MarkAllRead marks every unread notification of the user read.
func (n *Notifier) MarkAllRead(ctx context.Context, userID string) (int, error) {
	changed, err := n.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	n.logger.Info("notifications marked read",
		slog.String("user_id", userID),
		slog.Int("count", changed))
	return changed, nil
}

// Logs returns activity log entries.
func (n *Notifier) Logs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	return n.store.Logs(ctx, q)
}

func messageOf(evt event.Event) string {
	switch {
	case evt.Message != "":
		return evt.Message
	case evt.Title != "":
		return evt.Title
	default:
		return fmt.Sprintf("%s %s", evt.Type, evt.SubjectID)
	}
}

// linkFor points a notification at the resource it is about.
func linkFor(evt event.Event) string {
	switch evt.Source {
	case "approval":
		return "/api/approval/" + evt.SubjectID
	case "background":
		return "/api/background/" + evt.SubjectID
	default:
		return ""
	}
}
