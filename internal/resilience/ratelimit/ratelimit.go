// Package ratelimit provides per-key token-bucket admission with a bounded
// waiter queue.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ErrQueueFull is returned when too many callers are already waiting for a
// token on the same key.
var ErrQueueFull = errors.New("rate limiter queue full")

// Limit describes one bucket.
type Limit struct {
	RPS   float64
	Burst int
}

// Config sets the default bucket and the waiter bound.
type Config struct {
	Default Limit
	// MaxWaiters bounds how many callers may block per key; zero means 32.
	MaxWaiters int
}

// Limiter admits calls per key. Keys are typically provider names; unknown
// keys get the default bucket.
type Limiter struct {
	cfg Config

	mu        sync.Mutex
	buckets   map[string]*bucket
	overrides map[string]Limit
}

type bucket struct {
	limiter *rate.Limiter
	waiters atomic.Int64
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Default.RPS <= 0 {
		cfg.Default.RPS = 1
	}
	if cfg.Default.Burst <= 0 {
		cfg.Default.Burst = 1
	}
	if cfg.MaxWaiters <= 0 {
		cfg.MaxWaiters = 32
	}
	return &Limiter{
		cfg:       cfg,
		buckets:   make(map[string]*bucket),
		overrides: make(map[string]Limit),
	}
}

// SetLimit installs a per-key override. Takes effect on the key's next
// bucket creation, or immediately if the bucket already exists.
func (l *Limiter) SetLimit(key string, limit Limit) {
	if limit.RPS <= 0 || limit.Burst <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[key] = limit
	if b, ok := l.buckets[key]; ok {
		b.limiter.SetLimit(rate.Limit(limit.RPS))
		b.limiter.SetBurst(limit.Burst)
	}
}

// Acquire blocks until a token is available, the context ends, or the
// waiter queue for the key is full.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	b := l.bucket(key)

	if b.limiter.Allow() {
		return nil
	}

	if waiting := b.waiters.Add(1); waiting > int64(l.cfg.MaxWaiters) {
		b.waiters.Add(-1)
		return fmt.Errorf("%w: key %s", ErrQueueFull, key)
	}
	defer b.waiters.Add(-1)

	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait for %s: %w", key, err)
	}
	return nil
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	limit := l.cfg.Default
	if override, ok := l.overrides[key]; ok {
		limit = override
	}
	b := &bucket{limiter: rate.NewLimiter(rate.Limit(limit.RPS), limit.Burst)}
	l.buckets[key] = b
	return b
}
