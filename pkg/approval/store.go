package approval

import (
	"cmp"
	"context"
	"slices"
	"sync"

	fgerrors "github.com/randalmurphal/crewflow/pkg/flowgraph/errors"
)

// Store persists approval requests.
type Store interface {
	// Create inserts r. A second request for the same thread is a state
	// conflict.
	Create(ctx context.Context, r *Request) error

	// Get returns the request with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Request, error)

	// GetByThread returns the request for threadID, or ErrNotFound.
	GetByThread(ctx context.Context, threadID string) (*Request, error)

	// ListPending returns pending requests, newest first. An empty userID
	// lists every user's requests.
	ListPending(ctx context.Context, userID string) ([]Request, error)

	// Transition applies d to a pending request and returns the result.
	// Requests that are no longer pending are a state conflict.
	Transition(ctx context.Context, id string, d Decision) (*Request, error)
}

// MemoryStore is a non-durable Store.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*Request
	byThread map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Request),
		byThread: make(map[string]string),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byThread[r.ThreadID]; ok {
		return fgerrors.Conflict("create approval", "thread %s already has an approval request", r.ThreadID)
	}
	if _, ok := s.byID[r.ID]; ok {
		return fgerrors.Conflict("create approval", "approval request %s already exists", r.ID)
	}
	s.byID[r.ID] = r.clone()
	s.byThread[r.ThreadID] = r.ID
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// GetByThread implements Store.
func (s *MemoryStore) GetByThread(ctx context.Context, threadID string) (*Request, error) {
	s.mu.Lock()
	id, ok := s.byThread[threadID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// ListPending implements Store.
func (s *MemoryStore) ListPending(_ context.Context, userID string) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0)
	for _, r := range s.byID {
		if r.Status != StatusPending || (userID != "" && r.UserID != userID) {
			continue
		}
		out = append(out, *r.clone())
	}
	slices.SortFunc(out, func(a, b Request) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Transition implements Store.
func (s *MemoryStore) Transition(_ context.Context, id string, d Decision) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPending {
		return nil, fgerrors.Conflict("decide approval", "request %s already %s", id, r.Status)
	}
	r.Status = d.Status
	r.HumanFeedback = d.Feedback
	r.ModifiedOutput = d.ModifiedOutput
	at := d.ReviewedAt
	r.ReviewedAt = &at
	return r.clone(), nil
}
