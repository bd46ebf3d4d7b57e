package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSet stores marks as Redis keys so every process sharing the server
// sees the same cancellations.
type RedisSet struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// RedisOption configures a RedisSet.
type RedisOption func(*RedisSet)

// WithKeyPrefix sets the key prefix. Default "crewflow:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisSet) {
		s.keyPrefix = prefix
	}
}

// WithTTL expires marks that were never cleared. Default 24h; zero keeps
// marks until cleared.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSet) {
		s.ttl = ttl
	}
}

// NewRedisSet creates a signal set backed by client.
func NewRedisSet(client redis.UniversalClient, opts ...RedisOption) *RedisSet {
	s := &RedisSet{
		client:    client,
		keyPrefix: "crewflow:",
		ttl:       24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSet) key(targetID string) string {
	return s.keyPrefix + "signal:cancel:" + targetID
}

// Mark implements Set. SETNX keeps the first mark.
func (s *RedisSet) Mark(ctx context.Context, m Mark) error {
	if m.TargetID == "" {
		return ErrTargetRequired
	}
	if m.MarkedAt.IsZero() {
		m.MarkedAt = time.Now().UTC()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mark: %w", err)
	}

	if err := s.client.SetNX(ctx, s.key(m.TargetID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("mark %s: %w", m.TargetID, err)
	}
	return nil
}

// IsMarked implements Set.
func (s *RedisSet) IsMarked(ctx context.Context, targetID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(targetID)).Result()
	if err != nil {
		return false, fmt.Errorf("check %s: %w", targetID, err)
	}
	return n > 0, nil
}

// Get implements Set.
func (s *RedisSet) Get(ctx context.Context, targetID string) (Mark, error) {
	data, err := s.client.Get(ctx, s.key(targetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Mark{}, ErrNotMarked
	}
	if err != nil {
		return Mark{}, fmt.Errorf("get %s: %w", targetID, err)
	}

	var m Mark
	if err := json.Unmarshal(data, &m); err != nil {
		return Mark{}, fmt.Errorf("unmarshal mark: %w", err)
	}
	return m, nil
}

// Clear implements Set.
func (s *RedisSet) Clear(ctx context.Context, targetID string) error {
	if err := s.client.Del(ctx, s.key(targetID)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", targetID, err)
	}
	return nil
}
