package notify

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GormStore persists notifications and log entries with gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the notifications and activity_logs tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Notification{}, &LogEntry{})
}

// AddNotification implements Store.
func (s *GormStore) AddNotification(ctx context.Context, n *Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// AddLog implements Store.
func (s *GormStore) AddLog(ctx context.Context, l *LogEntry) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("create log entry: %w", err)
	}
	return nil
}

// Notifications implements Store.
func (s *GormStore) Notifications(ctx context.Context, q Query) ([]Notification, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", q.UserID)
	if q.UnreadOnly {
		tx = tx.Where("read = ?", false)
	}
	out := make([]Notification, 0)
	err := tx.Order("created_at DESC").Order("id DESC").
		Offset(q.Offset).Limit(q.limit()).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// UnreadCount implements Store.
func (s *GormStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(n), nil
}

// MarkRead implements Store.
func (s *GormStore) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	tx := s.db.WithContext(ctx).Where("id = ?", id)
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	var n Notification
	if err := tx.First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load notification: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&n).Update("read", true).Error; err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	n.Read = true
	return &n, nil
}

// MarkAllRead implements Store.
func (s *GormStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Logs implements Store.
func (s *GormStore) Logs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	tx := s.db.WithContext(ctx).Model(&LogEntry{})
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.SubjectID != "" {
		tx = tx.Where("subject_id = ?", q.SubjectID)
	}
	if q.Level != "" {
		tx = tx.Where("level = ?", q.Level)
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	out := make([]LogEntry, 0)
	err := tx.Order("created_at DESC").Order("id DESC").
		Offset(q.Offset).Limit(q.limit()).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return out, nil
}

var _ Store = (*GormStore)(nil)
