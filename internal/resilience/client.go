// Package resilience composes the rate limiter, circuit breakers, and the
// result cache into one guarded call path for unreliable remote services.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/cache"
	"github.com/rankmybrand/geocrawl/internal/resilience/breaker"
	"github.com/rankmybrand/geocrawl/internal/resilience/ratelimit"
)

// Client wraps remote calls with admission control, failure isolation, and
// TTL caching. Limiter and breaker state are provider-scoped and shared
// across jobs.
type Client struct {
	limiter  *ratelimit.Limiter
	breakers *breaker.Registry
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewClient constructs a Client. The cache may be nil to disable caching.
func NewClient(limiter *ratelimit.Limiter, breakers *breaker.Registry, resultCache *cache.Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		limiter:  limiter,
		breakers: breakers,
		cache:    resultCache,
		logger:   logger.Named("resilience"),
	}
}

// Call runs fn under the key's rate limit and circuit breaker. A cache hit
// under cacheKey skips admission and the remote call entirely; a successful
// result is cached for ttl. An empty cacheKey disables caching for the
// call.
func (c *Client) Call(ctx context.Context, key, cacheKey string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if c.cache != nil && cacheKey != "" {
		cached, err := c.cache.Get(ctx, cacheKey)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn("cache lookup failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	if err := c.limiter.Acquire(ctx, key); err != nil {
		return nil, fmt.Errorf("admit %s: %w", key, err)
	}

	var result []byte
	err := c.breakers.Get(key).Execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil && cacheKey != "" {
		if err := c.cache.Set(ctx, cacheKey, result, ttl); err != nil {
			c.logger.Warn("cache store failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return result, nil
}
