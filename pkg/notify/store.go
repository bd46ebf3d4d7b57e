package notify

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Store persists notifications and log entries. Implementations must be
// safe for concurrent use.
type Store interface {
	AddNotification(ctx context.Context, n *Notification) error
	AddLog(ctx context.Context, l *LogEntry) error

	// Notifications lists a user's notifications, newest first.
	Notifications(ctx context.Context, q Query) ([]Notification, error)

	// UnreadCount counts a user's unread notifications.
	UnreadCount(ctx context.Context, userID string) (int, error)

	// MarkRead marks one notification read. An empty userID skips the
	// ownership check.
	MarkRead(ctx context.Context, id, userID string) (*Notification, error)

	// MarkAllRead marks every unread notification of a user read and
	// returns how many changed.
	MarkAllRead(ctx context.Context, userID string) (int, error)

	// Logs lists activity log entries, newest first.
	Logs(ctx context.Context, q LogQuery) ([]LogEntry, error)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications []Notification
	logs          []LogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddNotification implements Store.
func (s *MemoryStore) AddNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

// AddLog implements Store.
func (s *MemoryStore) AddLog(_ context.Context, l *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l.clone())
	return nil
}

// Notifications implements Store.
func (s *MemoryStore) Notifications(_ context.Context, q Query) ([]Notification, error) {
	s.mu.RLock()
	out := make([]Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != q.UserID || (q.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, q.Offset, q.limit()), nil
}

// UnreadCount implements Store.
func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.notifications {
		if item.UserID == userID && !item.Read {
			n++
		}
	}
	return n, nil
}

// MarkRead implements Store.
func (s *MemoryStore) MarkRead(_ context.Context, id, userID string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.ID != id || (userID != "" && n.UserID != userID) {
			continue
		}
		n.Read = true
		out := *n
		return &out, nil
	}
	return nil, ErrNotFound
}

// MarkAllRead implements Store.
func (s *MemoryStore) MarkAllRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.UserID == userID && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

// Logs implements Store.
func (s *MemoryStore) Logs(_ context.Context, q LogQuery) ([]LogEntry, error) {
	s.mu.RLock()
	out := make([]LogEntry, 0)
	for _, l := range s.logs {
		if q.matches(l) {
			out = append(out, l.clone())
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b LogEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, q.Offset, q.limit()), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
