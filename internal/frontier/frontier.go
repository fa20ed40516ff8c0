// Package frontier implements the per-domain prioritized URL queue with
// politeness delays, dedup, robots gating, and kv persistence for resume.
package frontier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/kv"
	"github.com/rankmybrand/geocrawl/internal/robots"
)

// Dequeue outcomes that are not failures.
var (
	// ErrEmpty means the frontier holds no entries at all.
	ErrEmpty = errors.New("frontier: empty")
	// ErrNothingReady means entries exist but every domain is inside its
	// politeness window; callers should back off and retry.
	ErrNothingReady = errors.New("frontier: nothing ready")
)

const (
	seenEstimate  = 1_000_000
	seenFPRate    = 0.01
	frontierTTL   = 7 * 24 * time.Hour
	seenKeyPrefix = "frontier:seen:"
	pendKeyPrefix = "frontier:pending:"
)

// PolicySource resolves the robots policy for a domain. robots.Cache
// satisfies it.
type PolicySource interface {
	Policy(ctx context.Context, domain string) *robots.Policy
}

// Config tunes frontier behavior.
type Config struct {
	MaxDepth        int
	PolitenessDelay time.Duration
	MaxCrawlDelay   time.Duration
}

// Frontier is the per-job URL queue. It is safe for concurrent use; Next
// pops atomically so no two workers receive the same entry.
type Frontier struct {
	cfg    Config
	jobID  string
	store  kv.Store
	robots PolicySource
	logger *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainState
	order   []string
	cursor  int
	seen    *bloom.BloomFilter
	size    int
}

// domainState holds one domain's pending entries and politeness bookkeeping.
type domainState struct {
	entries     entryHeap
	lastFetchAt time.Time
	delay       time.Duration
}

// New constructs a Frontier for one crawl job.
func New(jobID string, cfg Config, store kv.Store, policies PolicySource, logger *zap.Logger) *Frontier {
	if cfg.PolitenessDelay <= 0 {
		cfg.PolitenessDelay = time.Second
	}
	if cfg.MaxCrawlDelay <= 0 {
		cfg.MaxCrawlDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		cfg:     cfg,
		jobID:   jobID,
		store:   store,
		robots:  policies,
		logger:  logger,
		domains: make(map[string]*domainState),
		seen:    bloom.NewWithEstimates(seenEstimate, seenFPRate),
	}
}

// Add normalizes and enqueues a URL. It returns false when the URL is
// rejected: malformed, too deep, already seen, or disallowed by robots.
// Policy rejections are not errors; the error return covers kv failures only.
func (f *Frontier) Add(ctx context.Context, rawURL string, priority float64, depth int) (bool, error) {
	if depth > f.cfg.MaxDepth {
		return false, nil
	}
	normalized, err := Normalize(rawURL)
	if err != nil {
		return false, nil
	}
	domain, err := Domain(normalized)
	if err != nil || domain == "" {
		return false, nil
	}

	isNew, err := f.markSeen(ctx, normalized)
	if err != nil {
		return false, err
	}
	if !isNew {
		return false, nil
	}

	var policy *robots.Policy
	if f.robots != nil {
		policy = f.robots.Policy(ctx, domain)
		if !policy.Allowed(urlPath(normalized)) {
			return false, nil
		}
	}

	entry := crawl.FrontierEntry{
		URL:          normalized,
		Domain:       domain,
		Priority:     priority,
		Depth:        depth,
		DiscoveredAt: time.Now(),
	}

	f.mu.Lock()
	state, ok := f.domains[domain]
	if !ok {
		state = &domainState{delay: f.domainDelay(policy)}
		f.domains[domain] = state
		f.order = append(f.order, domain)
	}
	state.entries.pushEntry(entry)
	f.size++
	f.mu.Unlock()

	f.persist(ctx, entry)
	return true, nil
}

// Next pops the highest-priority entry of the next domain whose politeness
// window has elapsed. It returns ErrEmpty when no entries remain anywhere
// and ErrNothingReady when entries exist but no domain is eligible yet.
func (f *Frontier) Next(ctx context.Context) (crawl.FrontierEntry, error) {
	now := time.Now()

	f.mu.Lock()
	if f.size == 0 {
		f.mu.Unlock()
		return crawl.FrontierEntry{}, ErrEmpty
	}
	for i := 0; i < len(f.order); i++ {
		f.cursor = (f.cursor + 1) % len(f.order)
		domain := f.order[f.cursor]
		state := f.domains[domain]
		if state.entries.Len() == 0 {
			continue
		}
		if now.Sub(state.lastFetchAt) < state.delay {
			continue
		}
		entry := state.entries.popEntry()
		state.lastFetchAt = now
		f.size--
		f.mu.Unlock()

		f.unpersist(ctx, entry)
		return entry, nil
	}
	f.mu.Unlock()
	return crawl.FrontierEntry{}, ErrNothingReady
}

// Size reports pending entries, either globally or for one domain.
func (f *Frontier) Size(domain ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(domain) == 0 {
		return f.size
	}
	state, ok := f.domains[domain[0]]
	if !ok {
		return 0
	}
	return state.entries.Len()
}

// Restore reloads pending entries persisted by a previous process for the
// same job. Entries bypass dedup: they were admitted before the restart.
func (f *Frontier) Restore(ctx context.Context) (int, error) {
	if f.store == nil {
		return 0, nil
	}
	pending, err := f.store.HGetAll(ctx, pendKeyPrefix+f.jobID)
	if err != nil {
		return 0, fmt.Errorf("load pending frontier: %w", err)
	}

	restored := 0
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, raw := range pending {
		var entry crawl.FrontierEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			f.logger.Warn("skipping corrupt frontier entry", zap.Error(err))
			continue
		}
		state, ok := f.domains[entry.Domain]
		if !ok {
			state = &domainState{delay: f.cfg.PolitenessDelay}
			f.domains[entry.Domain] = state
			f.order = append(f.order, entry.Domain)
		}
		state.entries.pushEntry(entry)
		f.seen.AddString(entry.URL)
		f.size++
		restored++
	}
	return restored, nil
}

// markSeen records the URL in the bloom filter and the kv seen-set. The
// bloom filter short-circuits definite duplicates; the kv set is the
// authoritative answer for bloom positives.
func (f *Frontier) markSeen(ctx context.Context, normalized string) (bool, error) {
	f.mu.Lock()
	maybeSeen := f.seen.TestString(normalized)
	f.seen.AddString(normalized)
	f.mu.Unlock()

	if f.store == nil {
		return !maybeSeen, nil
	}
	added, err := f.store.SAdd(ctx, seenKeyPrefix+f.jobID, normalized)
	if err != nil {
		return false, fmt.Errorf("record seen url: %w", err)
	}
	if err := f.store.Expire(ctx, seenKeyPrefix+f.jobID, frontierTTL); err != nil {
		f.logger.Debug("seen-set expire failed", zap.Error(err))
	}
	return added > 0, nil
}

func (f *Frontier) domainDelay(policy *robots.Policy) time.Duration {
	delay := f.cfg.PolitenessDelay
	if policy != nil && policy.CrawlDelay > delay {
		delay = policy.CrawlDelay
	}
	if delay > f.cfg.MaxCrawlDelay {
		delay = f.cfg.MaxCrawlDelay
	}
	return delay
}

func (f *Frontier) persist(ctx context.Context, entry crawl.FrontierEntry) {
	if f.store == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		f.logger.Warn("marshal frontier entry", zap.Error(err))
		return
	}
	if err := f.store.HSet(ctx, pendKeyPrefix+f.jobID, entry.URL, raw); err != nil {
		f.logger.Warn("persist frontier entry", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if err := f.store.Expire(ctx, pendKeyPrefix+f.jobID, frontierTTL); err != nil {
		f.logger.Debug("pending-set expire failed", zap.Error(err))
	}
}

func (f *Frontier) unpersist(ctx context.Context, entry crawl.FrontierEntry) {
	if f.store == nil {
		return
	}
	if err := f.store.HDel(ctx, pendKeyPrefix+f.jobID, entry.URL); err != nil {
		f.logger.Debug("remove pending frontier entry", zap.String("url", entry.URL), zap.Error(err))
	}
}

func urlPath(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
