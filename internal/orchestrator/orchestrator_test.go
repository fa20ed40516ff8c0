package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/kv"
)

// mapFetcher serves canned pages keyed by normalized URL and records every
// fetch it sees.
type mapFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *mapFetcher) Fetch(_ context.Context, url string) (crawl.Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	body, ok := f.pages[url]
	f.mu.Unlock()

	headers := http.Header{}
	headers.Set("Content-Type", "text/html; charset=utf-8")
	if !ok {
		return crawl.Page{
			URL: url, FinalURL: url, StatusCode: http.StatusNotFound,
			Headers: headers, Body: []byte("<html><body>not found</body></html>"),
			Duration: time.Millisecond,
		}, nil
	}
	return crawl.Page{
		URL: url, FinalURL: url, StatusCode: http.StatusOK,
		Headers: headers, Body: []byte(body),
		Duration: 2 * time.Millisecond,
	}, nil
}

func (f *mapFetcher) sawURL(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.fetched {
		if u == url {
			return true
		}
	}
	return false
}

func articleBody(words int, extra string) string {
	var b strings.Builder
	b.WriteString("<html><body><article><p>")
	for i := 0; i < words; i++ {
		fmt.Fprintf(&b, "word%d ", i)
	}
	b.WriteString("</p></article>")
	b.WriteString(extra)
	b.WriteString("</body></html>")
	return b.String()
}

func newTestManager(f crawl.Fetcher, r crawl.Renderer, cfg Config) *Manager {
	return NewManager(cfg, Deps{
		Store:           kv.NewMemoryStore(),
		Fetcher:         f,
		Renderer:        r,
		Logger:          zap.NewNop(),
		PolitenessDelay: time.Millisecond,
	})
}

func waitForJob(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("crawl did not finish in time")
	}
}

func TestCrawlFollowsInDomainLinksOnly(t *testing.T) {
	fetcher := &mapFetcher{pages: map[string]string{
		"https://site.test": articleBody(150,
			`<a href="/a">A</a><a href="/b">B</a><a href="https://other.test/x">X</a>`),
		"https://site.test/a": articleBody(160, ""),
		"https://site.test/b": articleBody(170, ""),
	}}

	m := newTestManager(fetcher, nil, Config{Workers: 3, MaxDepth: 1})
	job, err := m.StartCrawl([]string{"https://site.test"})
	require.NoError(t, err)
	waitForJob(t, job)

	stats := job.Stats()
	require.Equal(t, crawl.JobStateStopped, stats.State)
	require.Equal(t, int64(3), stats.Crawled)
	require.Zero(t, stats.Errors)
	require.False(t, fetcher.sawURL("https://other.test/x"), "cross-domain link must be filtered")

	depths := map[string]int{}
	for _, r := range job.Recent() {
		depths[r.URL] = r.Depth
	}
	require.Equal(t, map[string]int{
		"https://site.test":   0,
		"https://site.test/a": 1,
		"https://site.test/b": 1,
	}, depths)
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	fetcher := &mapFetcher{pages: map[string]string{
		"https://site.test":     articleBody(150, `<a href="/a">A</a>`),
		"https://site.test/a":   articleBody(160, `<a href="/a/b">B</a>`),
		"https://site.test/a/b": articleBody(170, ""),
	}}

	m := newTestManager(fetcher, nil, Config{Workers: 2, MaxDepth: 1})
	job, err := m.StartCrawl([]string{"https://site.test"})
	require.NoError(t, err)
	waitForJob(t, job)

	require.Equal(t, int64(2), job.Stats().Crawled)
	require.False(t, fetcher.sawURL("https://site.test/a/b"), "depth 2 must never be fetched")
}

func TestCrawlSkipsDuplicateContent(t *testing.T) {
	same := articleBody(150, "")
	fetcher := &mapFetcher{pages: map[string]string{
		"https://site.test":      articleBody(140, `<a href="/dup1">1</a><a href="/dup2">2</a>`),
		"https://site.test/dup1": same,
		"https://site.test/dup2": same,
	}}

	m := newTestManager(fetcher, nil, Config{Workers: 1, MaxDepth: 1})
	job, err := m.StartCrawl([]string{"https://site.test"})
	require.NoError(t, err)
	waitForJob(t, job)

	stats := job.Stats()
	require.Equal(t, int64(2), stats.Crawled)
	require.Equal(t, int64(1), stats.Skipped)
}

func TestCrawlRecordsFetchErrors(t *testing.T) {
	fetcher := &failingFetcher{}
	m := newTestManager(fetcher, nil, Config{Workers: 1, MaxDepth: 0})
	job, err := m.StartCrawl([]string{"https://down.test"})
	require.NoError(t, err)
	waitForJob(t, job)

	stats := job.Stats()
	require.Equal(t, int64(1), stats.Errors)
	require.Zero(t, stats.Crawled)
	reasons := job.LastErrors()
	require.Contains(t, reasons["https://down.test"], "connection refused")
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string) (crawl.Page, error) {
	return crawl.Page{}, fmt.Errorf("dial tcp: connection refused")
}

type stubRenderer struct {
	mu    sync.Mutex
	calls int
	body  string
}

func (r *stubRenderer) Render(_ context.Context, url string) (crawl.Page, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	headers := http.Header{}
	headers.Set("Content-Type", "text/html; charset=utf-8")
	return crawl.Page{
		URL: url, FinalURL: url, StatusCode: http.StatusOK,
		Headers: headers, Body: []byte(r.body),
		Duration: 5 * time.Millisecond, Rendered: true,
	}, nil
}

func (r *stubRenderer) Close(context.Context) error { return nil }

func (r *stubRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestCrawlRendersWithinBudget(t *testing.T) {
	// An empty app shell that the decision engine flags.
	shell := `<html><head><script src="/bundle.js"></script></head><body><div id="root"></div></body></html>`
	fetcher := &mapFetcher{pages: map[string]string{"https://spa.test": shell}}
	renderer := &stubRenderer{body: articleBody(300, "")}

	m := newTestManager(fetcher, renderer, Config{Workers: 1, MaxDepth: 0, JSRenderBudget: 1.0})
	job, err := m.StartCrawl([]string{"https://spa.test"})
	require.NoError(t, err)
	waitForJob(t, job)

	require.Equal(t, 1, renderer.callCount())
	stats := job.Stats()
	require.Equal(t, int64(1), stats.JSRendered)
	recent := job.Recent()
	require.Len(t, recent, 1)
	require.Equal(t, crawl.RenderHeadless, recent[0].RenderMethod)
}

func TestCrawlSkipsRenderingWhenBudgetExhausted(t *testing.T) {
	shell := `<html><head><script src="/bundle.js"></script></head><body><div id="root"></div></body></html>`
	fetcher := &mapFetcher{pages: map[string]string{"https://spa.test": shell}}
	renderer := &stubRenderer{body: articleBody(300, "")}

	m := newTestManager(fetcher, renderer, Config{Workers: 1, MaxDepth: 0, JSRenderBudget: 0})
	job, err := m.StartCrawl([]string{"https://spa.test"})
	require.NoError(t, err)
	waitForJob(t, job)

	require.Zero(t, renderer.callCount())
	recent := job.Recent()
	require.Len(t, recent, 1)
	require.Equal(t, crawl.RenderStatic, recent[0].RenderMethod, "static html is the fallback under budget pressure")
}

func TestStopCrawlIsCooperative(t *testing.T) {
	// Enough politeness delay that the job outlives the stop call.
	fetcher := &mapFetcher{pages: map[string]string{
		"https://site.test": articleBody(150, `<a href="/a">A</a><a href="/b">B</a><a href="/c">C</a>`),
	}}
	m := NewManager(Config{Workers: 2, MaxDepth: 1}, Deps{
		Store:           kv.NewMemoryStore(),
		Fetcher:         fetcher,
		Logger:          zap.NewNop(),
		PolitenessDelay: time.Hour,
	})

	job, err := m.StartCrawl([]string{"https://site.test"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.StopCrawl(ctx, job.ID))
	require.Equal(t, crawl.JobStateStopped, job.State())
}

func TestStopCrawlUnknownJob(t *testing.T) {
	m := newTestManager(&mapFetcher{}, nil, Config{})
	err := m.StopCrawl(context.Background(), "nope")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestStartCrawlRequiresSeeds(t *testing.T) {
	m := newTestManager(&mapFetcher{}, nil, Config{})
	_, err := m.StartCrawl(nil)
	require.Error(t, err)
}
