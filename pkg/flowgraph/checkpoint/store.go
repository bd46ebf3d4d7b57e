// Package checkpoint provides versioned checkpoint storage for pausing and
// resuming workflow threads.
//
// Every save is a new immutable record keyed by (threadID, sequence). The
// engine writes sequence = previous + 1, so a duplicate sequence means two
// writers raced on the same thread and the second one loses with
// ErrSequenceConflict.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoint versions for workflow threads.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a new version for a thread.
	// Returns ErrSequenceConflict if the sequence already exists.
	Save(ctx context.Context, threadID string, seq int, data []byte) error

	// Load retrieves a specific version.
	// Returns ErrNotFound if it doesn't exist.
	Load(ctx context.Context, threadID string, seq int) ([]byte, error)

	// Latest retrieves the highest sequence stored for a thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(ctx context.Context, threadID string) ([]byte, int, error)

	// List returns metadata for every version of a thread, ordered by sequence.
	// Returns empty slice (not error) if the thread has no checkpoints.
	List(ctx context.Context, threadID string) ([]Info, error)

	// DeleteThread removes all versions for a thread.
	// Returns nil if the thread has no checkpoints.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrSequenceConflict indicates the version was already written.
	ErrSequenceConflict = errors.New("checkpoint sequence already exists")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
