package background

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

// ErrNotFound is returned when an execution cannot be found.
var ErrNotFound = errors.New("execution not found")

// Store persists executions. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create persists a new execution.
	Create(ctx context.Context, e *Execution) error

	// Update replaces an existing execution. Updating a record whose
	// stored status is terminal fails with a state conflict.
	Update(ctx context.Context, e *Execution) error

	// Get retrieves an execution by ID.
	Get(ctx context.Context, id string) (*Execution, error)

	// List returns one page of matching executions, newest first, and
	// the number of matches before paging.
	List(ctx context.Context, filter ListFilter) ([]*Execution, int, error)

	// CountActive counts pending, running and cancelling executions.
	// An empty userID counts every user.
	CountActive(ctx context.Context, userID string) (int, error)
}

// ListFilter specifies criteria for listing executions.
type ListFilter struct {
	// UserID filters by owner.
	UserID string

	// Statuses keeps executions in any of the given states.
	Statuses []Status

	// Limit is the maximum number of results. Zero means no limit.
	Limit int

	// Offset is the number of results to skip.
	Offset int
}

func (f ListFilter) matches(e *Execution) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, e.Status)
}

func terminalConflict(e *Execution) error {
	return fgerrors.Conflict("update execution", "execution %s already %s", e.ID, e.Status)
}

// MemoryStore is an in-memory Store. Records are lost on restart.
type MemoryStore struct {
	executions map[string]*Execution
	mu         sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*Execution)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, e *Execution) error {
	if e.ID == "" {
		return &fgerrors.ValidationError{Field: "id", Message: "required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[e.ID]; exists {
		return fgerrors.Conflict("create execution", "execution %s already exists", e.ID)
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.executions[e.ID]
	if !exists {
		return ErrNotFound
	}
	if current.Status.Terminal() {
		return terminalConflict(current)
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.executions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Execution, int, error) {
	s.mu.RLock()
	result := make([]*Execution, 0, len(s.executions))
	for _, e := range s.executions {
		if filter.matches(e) {
			result = append(result, e.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b *Execution) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(result)
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*Execution{}, total, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, total, nil
}

// CountActive implements Store.
func (s *MemoryStore) CountActive(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.executions {
		if e.Status.Active() && (userID == "" || e.UserID == userID) {
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
