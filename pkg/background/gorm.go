package background

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

var (
	terminalStatuses = []Status{StatusCancelled, StatusCompleted, StatusFailed}
	activeStatuses   = []Status{StatusPending, StatusRunning, StatusCancelling}
)

// GormStore persists executions with gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the background_executions table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Execution{})
}

// Create implements Store.
func (s *GormStore) Create(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		return &fgerrors.ValidationError{Field: "id", Message: "required"}
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fgerrors.Conflict("create execution", "execution %s already exists", e.ID)
		}
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// Update implements Store. The write only applies while the stored row
// is not terminal.
func (s *GormStore) Update(ctx context.Context, e *Execution) error {
	res := s.db.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND status NOT IN ?", e.ID, terminalStatuses).
		Updates(map[string]any{
			"status":           e.Status,
			"title":            e.Title,
			"current_step":     e.CurrentStep,
			"total_steps":      e.TotalSteps,
			"progress_message": e.ProgressMessage,
			"result":           []byte(e.Result),
			"error":            e.Error,
			"started_at":       e.StartedAt,
			"completed_at":     e.CompletedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update execution: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	return terminalConflict(current)
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*Execution, error) {
	var e Execution
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	return &e, nil
}

// List implements Store.
func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]*Execution, int, error) {
	q := s.db.WithContext(ctx).Model(&Execution{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	q = q.Order("created_at DESC").Order("id DESC")
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	out := make([]*Execution, 0)
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	return out, int(total), nil
}

// CountActive implements Store.
func (s *GormStore) CountActive(ctx context.Context, userID string) (int, error) {
	q := s.db.WithContext(ctx).Model(&Execution{}).Where("status IN ?", activeStatuses)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count active executions: %w", err)
	}
	return int(n), nil
}

var _ Store = (*GormStore)(nil)
