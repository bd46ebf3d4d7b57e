package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

// GormStore persists requests with gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the approval_requests table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Request{})
}

// Create implements Store.
func (s *GormStore) Create(ctx context.Context, r *Request) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Request{}).Where("thread_id = ?", r.ThreadID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fgerrors.Conflict("create approval", "thread %s already has an approval request", r.ThreadID)
		}
		return tx.Create(r).Error
	})
	switch {
	case err == nil:
		return nil
	case fgerrors.IsStateConflict(err):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique"):
		return fgerrors.Conflict("create approval", "thread %s already has an approval request", r.ThreadID)
	default:
		return fmt.Errorf("create approval request: %w", err)
	}
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*Request, error) {
	return s.first(ctx, "id = ?", id)
}

// GetByThread implements Store.
func (s *GormStore) GetByThread(ctx context.Context, threadID string) (*Request, error) {
	return s.first(ctx, "thread_id = ?", threadID)
}

func (s *GormStore) first(ctx context.Context, query string, arg string) (*Request, error) {
	var r Request
	err := s.db.WithContext(ctx).Where(query, arg).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load approval request: %w", err)
	}
	return &r, nil
}

// ListPending implements Store.
func (s *GormStore) ListPending(ctx context.Context, userID string) ([]Request, error) {
	q := s.db.WithContext(ctx).Where("status = ?", StatusPending)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	out := make([]Request, 0)
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	return out, nil
}

// Transition implements Store. The update is conditional on the row
// still being pending, so only one concurrent decision applies.
func (s *GormStore) Transition(ctx context.Context, id string, d Decision) (*Request, error) {
	res := s.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":          d.Status,
			"human_feedback":  d.Feedback,
			"modified_output": d.ModifiedOutput,
			"reviewed_at":     d.ReviewedAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("decide approval request: %w", res.Error)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fgerrors.Conflict("decide approval", "request %s already %s", id, r.Status)
	}
	return r, nil
}
