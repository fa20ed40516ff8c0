package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/provider"
)

// SearchClient fans a query across configured providers in priority order,
// each behind the guarded call path, and falls back to the degraded
// provider when every real one is exhausted. It never hangs on provider
// failure.
type SearchClient struct {
	client    *Client
	providers []provider.Provider
	fallback  provider.Provider
	ttls      map[string]time.Duration
	logger    *zap.Logger
}

// NewSearchClient constructs a SearchClient. Providers are tried in slice
// order; ttls maps provider name to its cache TTL (zero uses the cache
// default).
func NewSearchClient(client *Client, providers []provider.Provider, ttls map[string]time.Duration, logger *zap.Logger) *SearchClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchClient{
		client:    client,
		providers: providers,
		fallback:  provider.NewDegraded(),
		ttls:      ttls,
		logger:    logger.Named("search"),
	}
}

// Search returns the first provider answer in priority order. Degraded
// answers are never cached.
func (s *SearchClient) Search(ctx context.Context, query string) (*provider.Response, error) {
	for _, p := range s.providers {
		resp, err := s.searchOne(ctx, p, query)
		if err == nil {
			return resp, nil
		}
		s.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.String("query", query),
			zap.Error(err))
	}
	return s.fallback.Search(ctx, query)
}

func (s *SearchClient) searchOne(ctx context.Context, p provider.Provider, query string) (*provider.Response, error) {
	cacheKey := p.Name() + ":" + query
	payload, err := s.client.Call(ctx, p.Name(), cacheKey, s.ttls[p.Name()], func(ctx context.Context) ([]byte, error) {
		resp, err := p.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}

	var resp provider.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}
