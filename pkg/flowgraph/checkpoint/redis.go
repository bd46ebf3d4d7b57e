package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis.
// Each thread keeps one hash of sequence -> data and a sorted set indexing
// sequences, so several processes can share threads.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace. Default "crewflow:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// WithTTL expires a thread's checkpoints after ttl of inactivity.
// Zero keeps them until DeleteThread.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a checkpoint store on an existing client.
// The store owns the client and closes it on Close.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "crewflow:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dataKey returns the hash holding checkpoint payloads for a thread.
func (s *RedisStore) dataKey(threadID string) string {
	return s.keyPrefix + "checkpoint:" + threadID + ":data"
}

// indexKey returns the sorted set of sequences, scored by sequence.
func (s *RedisStore) indexKey(threadID string) string {
	return s.keyPrefix + "checkpoint:" + threadID + ":index"
}

// timeKey returns the hash of sequence -> unix nano save time.
func (s *RedisStore) timeKey(threadID string) string {
	return s.keyPrefix + "checkpoint:" + threadID + ":time"
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, threadID string, seq int, data []byte) error {
	field := strconv.Itoa(seq)

	ok, err := s.client.HSetNX(ctx, s.dataKey(threadID), field, data).Result()
	if err != nil {
		return storeErr("save checkpoint", err)
	}
	if !ok {
		return ErrSequenceConflict
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.indexKey(threadID), redis.Z{Score: float64(seq), Member: field})
	pipe.HSet(ctx, s.timeKey(threadID), field, time.Now().UTC().UnixNano())
	if s.ttl > 0 {
		pipe.Expire(ctx, s.dataKey(threadID), s.ttl)
		pipe.Expire(ctx, s.indexKey(threadID), s.ttl)
		pipe.Expire(ctx, s.timeKey(threadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("index checkpoint", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID string, seq int) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.dataKey(threadID), strconv.Itoa(seq)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("load checkpoint", err)
	}
	return data, nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, threadID string) ([]byte, int, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, 0, storeErr("load latest checkpoint", err)
	}
	if len(members) == 0 {
		return nil, 0, ErrNotFound
	}

	seq, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, 0, fmt.Errorf("parse sequence %q: %w", members[0], err)
	}

	data, err := s.Load(ctx, threadID, seq)
	if err != nil {
		return nil, 0, err
	}
	return data, seq, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID string) ([]Info, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, storeErr("list checkpoints", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	lens := make([]*redis.IntCmd, len(members))
	times := make([]*redis.StringCmd, len(members))
	for i, m := range members {
		lens[i] = pipe.HStrLen(ctx, s.dataKey(threadID), m)
		times[i] = pipe.HGet(ctx, s.timeKey(threadID), m)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("list checkpoints", err)
	}

	infos := make([]Info, 0, len(members))
	for i, m := range members {
		seq, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		info := Info{
			ThreadID: threadID,
			Sequence: seq,
			Size:     lens[i].Val(),
		}
		if nanos, err := times[i].Int64(); err == nil {
			info.Timestamp = time.Unix(0, nanos).UTC()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	err := s.client.Del(ctx, s.dataKey(threadID), s.indexKey(threadID), s.timeKey(threadID)).Err()
	if err != nil {
		return storeErr("delete thread checkpoints", err)
	}
	return nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func storeErr(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}
