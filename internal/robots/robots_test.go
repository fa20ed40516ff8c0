package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/kv"
)

const sampleRobots = `User-agent: *
Disallow: /private/
Crawl-delay: 2

Sitemap: https://example.org/sitemap.xml
`

func TestPolicyFromKVSnapshot(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "robots:example.org", []byte(sampleRobots), time.Hour))

	cache := NewCache(store, "geocrawl-bot", time.Hour, zap.NewNop())
	policy := cache.Policy(ctx, "example.org")

	require.False(t, policy.Allowed("/private/page"))
	require.True(t, policy.Allowed("/public/page"))
	require.Equal(t, 2*time.Second, policy.CrawlDelay)
	require.Equal(t, []string{"https://example.org/sitemap.xml"}, policy.Sitemaps)
}

func TestPolicyFetchesAndPersists(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte(sampleRobots))
	}))
	defer srv.Close()

	store := kv.NewMemoryStore()
	cache := NewCache(store, "geocrawl-bot", time.Hour, zap.NewNop())
	cache.SetClient(redirectingClient(t, srv.URL))

	policy := cache.Policy(ctx, "example.org")
	require.False(t, policy.Allowed("/private/x"))

	// The raw body should now be persisted for restart reuse.
	body, err := store.Get(ctx, "robots:example.org")
	require.NoError(t, err)
	require.Equal(t, sampleRobots, string(body))
}

func TestPolicyPermissiveDefaultOnFailure(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(kv.NewMemoryStore(), "geocrawl-bot", time.Hour, zap.NewNop())
	cache.SetClient(&http.Client{Transport: failingTransport{}})

	policy := cache.Policy(ctx, "unreachable.example")
	require.True(t, policy.Allowed("/anything"), "fetch failure must not block the domain")
}

func TestPolicyHotCacheHonorsTTL(t *testing.T) {
	ctx := context.Background()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(sampleRobots))
	}))
	defer srv.Close()

	cache := NewCache(nil, "geocrawl-bot", time.Hour, zap.NewNop())
	cache.SetClient(redirectingClient(t, srv.URL))

	cache.Policy(ctx, "example.org")
	cache.Policy(ctx, "example.org")
	require.Equal(t, 1, calls, "second lookup should hit the hot cache")
}

// redirectingClient rewrites every request to the test server while keeping
// the original path.
func redirectingClient(t *testing.T, base string) *http.Client {
	t.Helper()
	target, err := url.Parse(base)
	require.NoError(t, err)
	return &http.Client{Transport: rewriteTransport{target: target}}
}

type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, http.ErrHandlerTimeout
}
