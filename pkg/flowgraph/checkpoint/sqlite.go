package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	created_ns INTEGER NOT NULL,
	data       BLOB    NOT NULL,
	PRIMARY KEY (thread_id, sequence)
)`

// SQLiteStore keeps checkpoints in a single SQLite file, so parked threads
// survive a restart of one process.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init checkpoint database: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// check must run under s.mu.
func (s *SQLiteStore) check() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, threadID string, seq int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, sequence, created_ns, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(thread_id, sequence) DO NOTHING`,
		threadID, seq, time.Now().UnixNano(), data)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	} else if n == 0 {
		return ErrSequenceConflict
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string, seq int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE thread_id = ? AND sequence = ?`,
		threadID, seq).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, threadID string) ([]byte, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, 0, err
	}

	var data []byte
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT data, sequence FROM checkpoints WHERE thread_id = ? ORDER BY sequence DESC LIMIT 1`,
		threadID).Scan(&data, &seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, 0, ErrNotFound
	case err != nil:
		return nil, 0, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return data, seq, nil
}

func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, created_ns, LENGTH(data) FROM checkpoints WHERE thread_id = ? ORDER BY sequence`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		info := Info{ThreadID: threadID}
		var createdNS int64
		if err := rows.Scan(&info.Sequence, &createdNS, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		info.Timestamp = time.Unix(0, createdNS).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return infos, nil
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
