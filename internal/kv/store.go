// Package kv abstracts the Redis-shaped persistence used by the frontier,
// deduplicator, robots cache, and result cache.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist or has
// expired.
var ErrNotFound = errors.New("kv: not found")

// Store is the minimal key-value surface the crawler needs: plain keys with
// TTL, sets for membership tracking, and hashes for per-job maps. A ttl of
// zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// SAdd returns the number of members that were newly added, which lets
	// callers use it as an atomic test-and-set.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key string, member string) (bool, error)

	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}
