// Package fetcher implements the static HTTP fetch path using gocolly.
package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the response body; zero keeps colly's default.
	MaxBodyBytes int
}

// Static implements crawl.Fetcher using the Colly collector. Robots gating
// happens in the frontier before a URL is ever handed to a fetcher, so the
// collector itself does not consult robots.txt.
type Static struct {
	cfg       Config
	transport http.RoundTripper
	base      *colly.Collector
}

// New builds a Static fetcher.
func New(cfg Config) *Static {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Static{
		cfg:       cfg,
		transport: transport,
		base:      c,
	}
}

// SetTransport overrides the HTTP transport. Used by tests to point the
// collector at local servers.
func (s *Static) SetTransport(rt http.RoundTripper) {
	s.transport = rt
}

// Fetch executes a single HTTP GET and returns the raw page. Redirects are
// followed; the response URL after redirects lands in FinalURL.
func (s *Static) Fetch(ctx context.Context, url string) (crawl.Page, error) {
	var (
		page     crawl.Page
		fetchErr error
	)
	start := time.Now()

	collector := s.base.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.WithTransport(s.transport)

	collector.OnResponse(func(r *colly.Response) {
		page = crawl.Page{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			page = crawl.Page{
				URL:        url,
				FinalURL:   r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Headers:    headerOrEmpty(r),
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return crawl.Page{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr = <-done:
	}

	// Colly reports non-2xx statuses as errors through both Visit and
	// OnError; a captured status means we still have a usable page and the
	// caller inspects the code.
	if page.StatusCode != 0 {
		return page, nil
	}
	if fetchErr != nil {
		return crawl.Page{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if visitErr != nil {
		return crawl.Page{}, fmt.Errorf("fetch %s: %w", url, visitErr)
	}
	return page, nil
}

func headerOrEmpty(r *colly.Response) http.Header {
	if r.Headers == nil {
		return http.Header{}
	}
	return r.Headers.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
