// Package signal provides the cancellation signal set used by background
// executions.
//
// A signal is a fire-and-forget mark placed on a target (an execution ID)
// by an external actor. The running unit checks for the mark at step
// boundaries and stops cooperatively; the mark is cleared once the target
// reaches a terminal state.
//
// Implementations must be safe for concurrent Mark, IsMarked, and Clear.
package signal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotMarked is returned by Get when the target carries no mark.
var ErrNotMarked = errors.New("signal not marked")

// ErrTargetRequired is returned when a target ID is empty.
var ErrTargetRequired = errors.New("target ID is required")

// Mark records who asked a target to stop and why.
type Mark struct {
	// TargetID is the execution the mark applies to.
	TargetID string `json:"target_id"`

	// Reason is a free-form explanation, e.g. "cancelled by user".
	Reason string `json:"reason,omitempty"`

	// SenderID identifies who placed the mark.
	SenderID string `json:"sender_id,omitempty"`

	MarkedAt time.Time `json:"marked_at"`
}

// Set is a keyed set of cancellation marks.
type Set interface {
	// Mark places a mark on the target. Marking twice keeps the first mark.
	Mark(ctx context.Context, m Mark) error

	// IsMarked reports whether the target carries a mark.
	IsMarked(ctx context.Context, targetID string) (bool, error)

	// Get returns the mark, or ErrNotMarked.
	Get(ctx context.Context, targetID string) (Mark, error)

	// Clear removes the mark. Clearing an unmarked target is a no-op.
	Clear(ctx context.Context, targetID string) error
}

// NewMark creates a mark for target stamped with the current time.
func NewMark(targetID, reason string) Mark {
	return Mark{
		TargetID: targetID,
		Reason:   reason,
		MarkedAt: time.Now().UTC(),
	}
}

// WithSender sets the sender ID on the mark.
func (m Mark) WithSender(senderID string) Mark {
	m.SenderID = senderID
	return m
}

// MemorySet is an in-process Set. Marks do not survive a restart.
type MemorySet struct {
	marks map[string]Mark
	mu    sync.RWMutex
}

// NewMemorySet creates an empty in-memory signal set.
func NewMemorySet() *MemorySet {
	return &MemorySet{
		marks: make(map[string]Mark),
	}
}

// Mark implements Set.
func (s *MemorySet) Mark(_ context.Context, m Mark) error {
	if m.TargetID == "" {
		return ErrTargetRequired
	}
	if m.MarkedAt.IsZero() {
		m.MarkedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.marks[m.TargetID]; !exists {
		s.marks[m.TargetID] = m
	}
	return nil
}

// IsMarked implements Set.
func (s *MemorySet) IsMarked(_ context.Context, targetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.marks[targetID]
	return exists, nil
}

// Get implements Set.
func (s *MemorySet) Get(_ context.Context, targetID string) (Mark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.marks[targetID]
	if !exists {
		return Mark{}, ErrNotMarked
	}
	return m, nil
}

// Clear implements Set.
func (s *MemorySet) Clear(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.marks, targetID)
	return nil
}

// Len returns the number of marked targets.
func (s *MemorySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.marks)
}
