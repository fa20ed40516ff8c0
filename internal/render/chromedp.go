package render

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// BrowserConfig controls the chromedp-backed renderer.
type BrowserConfig struct {
	MaxTabs          int
	UserAgent        string
	NavTimeout       time.Duration
	ContentWait      time.Duration
	ContentSelector  string
	ScrollBeforeDump bool
}

// Browser implements crawl.Renderer on a shared headless Chrome process.
// Each Render call opens an isolated tab and always closes it.
type Browser struct {
	cfg         BrowserConfig
	tabs        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewBrowser starts the exec allocator for a shared browser process.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ContentWait <= 0 {
		cfg.ContentWait = 5 * time.Second
	}
	var tabs chan struct{}
	if cfg.MaxTabs > 0 {
		tabs = make(chan struct{}, cfg.MaxTabs)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the shared browser process.
func (b *Browser) Close(_ context.Context) error {
	b.allocCancel()
	return nil
}

// Render navigates the URL in a fresh tab, waits for content, and returns
// the final DOM.
func (b *Browser) Render(ctx context.Context, url string) (crawl.Page, error) {
	if err := b.acquireTab(ctx); err != nil {
		return crawl.Page{}, err
	}
	defer b.releaseTab()

	tabCtx, closeTab := chromedp.NewContext(b.allocator)
	defer closeTab()

	tabCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := b.run(tabCtx, url)
	if err != nil {
		return crawl.Page{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if headers == nil {
		headers = http.Header{}
	}

	return crawl.Page{
		URL:        url,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (b *Browser) run(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		b.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.cfg.ContentSelector != "" {
		actions = append(actions, b.waitForContentAction())
	}
	if b.cfg.ScrollBeforeDump {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight/2)`, nil),
			chromedp.Sleep(300*time.Millisecond),
		)
	}
	actions = append(actions,
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// waitForContentAction waits for the configured selector under a shorter
// deadline than navigation; a timeout here is not fatal, the DOM dump still
// proceeds with whatever loaded.
func (b *Browser) waitForContentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ContentWait)
		defer cancel()
		err := chromedp.WaitVisible(b.cfg.ContentSelector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	})
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquireTab(ctx context.Context) error {
	if b.tabs == nil {
		return nil
	}
	select {
	case b.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render tab wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) releaseTab() {
	if b.tabs == nil {
		return
	}
	select {
	case <-b.tabs:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, cloneHeader(m.headers), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
