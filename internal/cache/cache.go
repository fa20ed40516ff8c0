// Package cache provides a TTL-keyed byte cache over the kv store, with
// transparent brotli compression for large values.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/rankmybrand/geocrawl/internal/kv"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Values carry a one-byte scheme prefix so the codec can evolve.
const (
	schemeRaw    = 'r'
	schemeBrotli = 'b'
)

// Config tunes the cache.
type Config struct {
	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration
	// CompressMinBytes is the value size at which compression kicks in.
	CompressMinBytes int
}

// Cache stores compressed, TTL-bound values. Entries are written wholesale
// and never partially mutated.
type Cache struct {
	cfg    Config
	store  kv.Store
	prefix string
}

// New constructs a Cache. The prefix namespaces its keys in the shared
// store.
func New(prefix string, cfg Config, store kv.Store) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.CompressMinBytes <= 0 {
		cfg.CompressMinBytes = 1024
	}
	return &Cache{cfg: cfg, store: store, prefix: prefix}
}

// Get returns the value for key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.store.Get(ctx, c.key(key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return decode(raw)
}

// Set stores value under key for ttl; a zero ttl uses the default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	encoded, err := c.encode(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, c.key(key), encoded, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key; missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.store.Del(ctx, c.key(key)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache) key(key string) string {
	return c.prefix + ":" + key
}

func (c *Cache) encode(value []byte) ([]byte, error) {
	if len(value) < c.cfg.CompressMinBytes {
		return append([]byte{schemeRaw}, value...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(schemeBrotli)
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	// Compression can lose on incompressible payloads.
	if buf.Len() >= len(value)+1 {
		return append([]byte{schemeRaw}, value...), nil
	}
	return buf.Bytes(), nil
}

func decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty cache entry")
	}
	payload := raw[1:]
	switch raw[0] {
	case schemeRaw:
		return append([]byte(nil), payload...), nil
	case schemeBrotli:
		value, err := io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("decompress cache entry: %w", err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unknown cache scheme %q", raw[0])
	}
}
