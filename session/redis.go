package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSessionTTL = 24 * time.Hour

// RedisStore is a Redis-backed [Store]. Each client session maps to one key
// namespace; values are written with a TTL so abandoned sessions expire on
// their own.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	sessionID string
	ttl       time.Duration
}

// NewRedisStore creates a session store for one client session. prefix sets
// the Redis key namespace, sessionID identifies the client session, and ttl
// bounds the lifetime of every slot (default 24h when zero).
func NewRedisStore(client redis.UniversalClient, prefix, sessionID string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{
		redis:     client,
		prefix:    prefix,
		sessionID: sessionID,
		ttl:       ttl,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + s.sessionID + ":" + key
}

// Get returns the value stored under key, or [ErrNotFound].
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return data, nil
}

// Set stores value under key with the configured TTL.
//
//	Performance: 1 Redis SET.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.redis.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
//
//	Performance: 1 Redis DEL.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
