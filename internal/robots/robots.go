// Package robots fetches, parses, and caches robots.txt policies per domain.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/kv"
)

const (
	maxRobotsBytes = 1 << 20
	kvKeyPrefix    = "robots:"
)

// Policy is the parsed robots.txt outcome for one domain. A nil group means
// no rules matched the crawler's user agent, which allows everything.
type Policy struct {
	Domain     string
	CrawlDelay time.Duration
	Sitemaps   []string
	FetchedAt  time.Time

	group    *robotstxt.Group
	allowAll bool
}

// Allowed reports whether the given URL path may be fetched.
func (p *Policy) Allowed(path string) bool {
	if p == nil || p.allowAll || p.group == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return p.group.Test(path)
}

// Cache resolves robots policies with a TTL, persisting raw robots.txt
// bodies in the kv store so restarts do not refetch every domain.
type Cache struct {
	client    *http.Client
	store     kv.Store
	ttl       time.Duration
	userAgent string
	logger    *zap.Logger

	mu  sync.Mutex
	hot map[string]*Policy
}

// NewCache builds a robots Cache. A zero ttl defaults to 24 hours.
func NewCache(store kv.Store, userAgent string, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    &http.Client{Timeout: 10 * time.Second},
		store:     store,
		ttl:       ttl,
		userAgent: userAgent,
		logger:    logger,
		hot:       make(map[string]*Policy),
	}
}

// Policy returns the cached policy for a domain, fetching robots.txt if
// needed. Fetch failures never block a domain: a permissive default policy
// is substituted and the failure logged.
func (c *Cache) Policy(ctx context.Context, domain string) *Policy {
	domain = strings.ToLower(domain)

	c.mu.Lock()
	cached, ok := c.hot[domain]
	c.mu.Unlock()
	if ok && time.Since(cached.FetchedAt) < c.ttl {
		return cached
	}

	policy, err := c.resolve(ctx, domain)
	if err != nil {
		c.logger.Warn("robots fetch failed; using permissive default",
			zap.String("domain", domain), zap.Error(err))
		policy = &Policy{Domain: domain, FetchedAt: time.Now(), allowAll: true}
	}

	c.mu.Lock()
	c.hot[domain] = policy
	c.mu.Unlock()
	return policy
}

func (c *Cache) resolve(ctx context.Context, domain string) (*Policy, error) {
	if c.store != nil {
		if body, err := c.store.Get(ctx, kvKeyPrefix+domain); err == nil {
			return c.parse(domain, http.StatusOK, body)
		}
	}

	status, body, err := c.fetch(ctx, domain)
	if err != nil {
		return nil, err
	}

	if c.store != nil && status == http.StatusOK {
		if err := c.store.Set(ctx, kvKeyPrefix+domain, body, c.ttl); err != nil {
			c.logger.Debug("robots kv persist failed", zap.String("domain", domain), zap.Error(err))
		}
	}
	return c.parse(domain, status, body)
}

func (c *Cache) fetch(ctx context.Context, domain string) (int, []byte, error) {
	robotsURL := url.URL{Scheme: "https", Host: domain, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Cache) parse(domain string, status int, body []byte) (*Policy, error) {
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	policy := &Policy{
		Domain:    domain,
		Sitemaps:  append([]string(nil), data.Sitemaps...),
		FetchedAt: time.Now(),
	}
	if group := data.FindGroup(c.userAgent); group != nil {
		policy.group = group
		policy.CrawlDelay = group.CrawlDelay
	}
	return policy, nil
}

// SetClient overrides the HTTP client; used by tests.
func (c *Cache) SetClient(client *http.Client) {
	c.client = client
}
