// Package dedup detects exact and near-duplicate page content via
// fingerprinting, independent of URL identity.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/kv"
)

const (
	hashSetPrefix  = "dedup:hashes:"
	urlMapPrefix   = "dedup:urls:"
	signatureLimit = 256
)

// Config tunes the deduplicator.
type Config struct {
	// NearDupThreshold is the Jaccard similarity above which two pages are
	// considered near-duplicates. Zero disables the similarity scan.
	NearDupThreshold float64
	// Retention bounds how long fingerprint state survives in the kv store.
	Retention time.Duration
}

// Deduplicator tracks content fingerprints for one crawl job. Exact-match
// state lives in the kv store so it survives restarts; the near-duplicate
// signature window is in-process and advisory.
type Deduplicator struct {
	cfg    Config
	jobID  string
	store  kv.Store
	logger *zap.Logger

	mu         sync.Mutex
	signatures []Fingerprint
}

// New constructs a Deduplicator for one job.
func New(jobID string, cfg Config, store kv.Store, logger *zap.Logger) *Deduplicator {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		cfg:    cfg,
		jobID:  jobID,
		store:  store,
		logger: logger,
	}
}

// IsDuplicate reports whether the content has been seen before in this job.
// A URL refetched with changed content is an update, not a duplicate: the
// old fingerprint is retired and the new one registered.
func (d *Deduplicator) IsDuplicate(ctx context.Context, url string, content []byte) (bool, error) {
	fp := NewFingerprint(content)

	known, err := d.store.SIsMember(ctx, d.hashSetKey(), fp.Hash)
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	if known {
		return true, nil
	}

	previous, err := d.store.HGet(ctx, d.urlMapKey(), url)
	switch {
	case err == nil && string(previous) != fp.Hash:
		// Same URL, changed content: retire the old fingerprint.
		if err := d.store.SRem(ctx, d.hashSetKey(), string(previous)); err != nil {
			d.logger.Warn("retire stale fingerprint", zap.String("url", url), zap.Error(err))
		}
	case err != nil && !errors.Is(err, kv.ErrNotFound):
		return false, fmt.Errorf("lookup url fingerprint: %w", err)
	}

	if err := d.register(ctx, url, fp); err != nil {
		return false, err
	}
	return false, nil
}

// IsNearDuplicate is an advisory check against recently seen shingle
// signatures. It never blocks a crawl by itself; callers decide whether a
// templated page is worth keeping.
func (d *Deduplicator) IsNearDuplicate(_ context.Context, content []byte) (bool, error) {
	if d.cfg.NearDupThreshold <= 0 {
		return false, nil
	}
	fp := NewFingerprint(content)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, seen := range d.signatures {
		if seen.ShingleHash == fp.ShingleHash {
			return true, nil
		}
		if fp.Similarity(seen) >= d.cfg.NearDupThreshold {
			return true, nil
		}
	}

	d.signatures = append(d.signatures, fp)
	if len(d.signatures) > signatureLimit {
		d.signatures = d.signatures[len(d.signatures)-signatureLimit:]
	}
	return false, nil
}

func (d *Deduplicator) register(ctx context.Context, url string, fp Fingerprint) error {
	if _, err := d.store.SAdd(ctx, d.hashSetKey(), fp.Hash); err != nil {
		return fmt.Errorf("register content hash: %w", err)
	}
	if err := d.store.HSet(ctx, d.urlMapKey(), url, []byte(fp.Hash)); err != nil {
		return fmt.Errorf("map url to fingerprint: %w", err)
	}
	for _, key := range []string{d.hashSetKey(), d.urlMapKey()} {
		if err := d.store.Expire(ctx, key, d.cfg.Retention); err != nil {
			d.logger.Debug("fingerprint expire failed", zap.Error(err))
		}
	}
	return nil
}

func (d *Deduplicator) hashSetKey() string { return hashSetPrefix + d.jobID }
func (d *Deduplicator) urlMapKey() string  { return urlMapPrefix + d.jobID }
