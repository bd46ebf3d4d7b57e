package checkpoint

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. A parked thread does not
// survive a restart; use SQLiteStore or RedisStore for that.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread
	closed  bool
}

type memThread struct {
	latest   int
	versions map[int]memVersion
}

type memVersion struct {
	data  []byte
	saved time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*memThread)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, threadID string, seq int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	th := m.threads[threadID]
	if th == nil {
		th = &memThread{latest: seq, versions: make(map[int]memVersion)}
		m.threads[threadID] = th
	}
	if _, taken := th.versions[seq]; taken {
		return ErrSequenceConflict
	}
	th.versions[seq] = memVersion{data: bytes.Clone(data), saved: time.Now().UTC()}
	th.latest = max(th.latest, seq)
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, threadID string, seq int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	th := m.threads[threadID]
	if th == nil {
		return nil, ErrNotFound
	}
	v, ok := th.versions[seq]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v.data), nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, threadID string) ([]byte, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, 0, ErrStoreClosed
	}

	th := m.threads[threadID]
	if th == nil {
		return nil, 0, ErrNotFound
	}
	return bytes.Clone(th.versions[th.latest].data), th.latest, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	th := m.threads[threadID]
	if th == nil {
		return nil, nil
	}
	infos := make([]Info, 0, len(th.versions))
	for seq, v := range th.versions {
		infos = append(infos, Info{ThreadID: threadID, Sequence: seq, Timestamp: v.saved, Size: int64(len(v.data))})
	}
	slices.SortFunc(infos, func(a, b Info) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return infos, nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.threads, threadID)
	return nil
}

// Close drops every thread. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.threads = nil
	return nil
}

// Len counts checkpoint versions across all threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, th := range m.threads {
		n += len(th.versions)
	}
	return n
}
