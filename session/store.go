package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when the key has no value.
var ErrNotFound = errors.New("session key not found")

// ErrRedisUnavailable wraps Redis transport failures in [RedisStore].
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store is the session storage contract supplied to every guard call. It is
// a mapping from key (guard-name derived) to an opaque value, scoped to one
// client session, supporting get, set, and delete-by-key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
