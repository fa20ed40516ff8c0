// Package provider abstracts third-party search-results APIs behind a
// common interface so the resilience layer can treat them uniformly.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Result is one ranked search hit.
type Result struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is a provider's answer to one query.
type Response struct {
	Provider    string    `json:"provider"`
	Query       string    `json:"query"`
	Results     []Result  `json:"results"`
	Degraded    bool      `json:"degraded,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Provider answers search queries. Implementations wrap one remote API
// each; a declarative fallback list decides the calling order.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (*Response, error)
}

// HTTPConfig describes one remote search API.
type HTTPConfig struct {
	Name     string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTP calls a JSON search API of the common shape
// GET {endpoint}?q={query} with a bearer key.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP constructs an HTTP provider.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetClient overrides the HTTP client. Used by tests.
func (p *HTTP) SetClient(c *http.Client) { p.client = c }

func (p *HTTP) Name() string { return p.cfg.Name }

// Search issues the query and decodes the ranked results.
func (p *HTTP) Search(ctx context.Context, query string) (*Response, error) {
	endpoint, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("provider %s endpoint: %w", p.cfg.Name, err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s request: %w", p.cfg.Name, err)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s call: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider %s status %d: %s", p.cfg.Name, resp.StatusCode, body)
	}

	var payload struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("provider %s decode: %w", p.cfg.Name, err)
	}
	for i := range payload.Results {
		if payload.Results[i].Rank == 0 {
			payload.Results[i].Rank = i + 1
		}
	}

	return &Response{
		Provider:    p.cfg.Name,
		Query:       query,
		Results:     payload.Results,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// Degraded is the terminal fallback: it always answers, with an empty,
// clearly marked result set, so callers never hang on provider outages.
type Degraded struct{}

// NewDegraded constructs the fallback provider.
func NewDegraded() Degraded { return Degraded{} }

func (Degraded) Name() string { return "degraded" }

func (Degraded) Search(_ context.Context, query string) (*Response, error) {
	return &Response{
		Provider:    "degraded",
		Query:       query,
		Results:     nil,
		Degraded:    true,
		RetrievedAt: time.Now().UTC(),
	}, nil
}
