// Package main wires together the geocrawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/api"
	"github.com/rankmybrand/geocrawl/internal/archive"
	"github.com/rankmybrand/geocrawl/internal/cache"
	"github.com/rankmybrand/geocrawl/internal/config"
	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/fetcher"
	"github.com/rankmybrand/geocrawl/internal/kv"
	"github.com/rankmybrand/geocrawl/internal/logging"
	"github.com/rankmybrand/geocrawl/internal/orchestrator"
	"github.com/rankmybrand/geocrawl/internal/progress"
	"github.com/rankmybrand/geocrawl/internal/progress/sinks"
	"github.com/rankmybrand/geocrawl/internal/provider"
	pubsubpublisher "github.com/rankmybrand/geocrawl/internal/publisher/pubsub"
	"github.com/rankmybrand/geocrawl/internal/render"
	"github.com/rankmybrand/geocrawl/internal/resilience"
	"github.com/rankmybrand/geocrawl/internal/resilience/breaker"
	"github.com/rankmybrand/geocrawl/internal/resilience/ratelimit"
	"github.com/rankmybrand/geocrawl/internal/robots"
	"github.com/rankmybrand/geocrawl/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var store kv.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := kv.NewRedisStore(ctx, kv.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		store = redisStore
	} else {
		logger.Info("redis not configured, using in-memory store")
		store = kv.NewMemoryStore()
	}

	policies := robots.NewCache(store, cfg.Crawler.UserAgent,
		time.Duration(cfg.Crawler.RobotsTTLHours)*time.Hour, logger)

	static := fetcher.New(fetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	var renderer crawl.Renderer = render.NewDisabled()
	if cfg.Headless.Enabled {
		browser, err := render.NewBrowser(render.BrowserConfig{
			MaxTabs:          cfg.Headless.MaxTabs,
			UserAgent:        cfg.Crawler.UserAgent,
			NavTimeout:       time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ContentWait:      time.Duration(cfg.Headless.ContentWaitSec) * time.Second,
			ContentSelector:  cfg.Headless.ContentSelector,
			ScrollBeforeDump: cfg.Headless.ScrollBeforeUnload,
		})
		if err != nil {
			logger.Warn("headless browser init failed, rendering disabled", zap.Error(err))
		} else {
			renderer = browser
		}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := renderer.Close(closeCtx); err != nil {
			logger.Warn("renderer close failed", zap.Error(err))
		}
	}()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	searchClient := buildSearch(cfg, store, logger)

	blobs, err := buildArchive(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}

	var sink crawl.ResultSink
	if cfg.DB.DSN != "" {
		pg, err := postgres.New(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		defer pg.Close()
		sink = pg
	}

	var pub crawl.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		p, err := pubsubpublisher.New(psClient)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer func() {
			if err := p.Close(); err != nil {
				logger.Warn("publisher close failed", zap.Error(err))
			}
		}()
		pub = p
	}

	manager := orchestrator.NewManager(orchestrator.Config{
		Workers:          cfg.Crawler.Workers,
		MaxDepth:         cfg.Crawler.MaxDepth,
		MaxPages:         cfg.Crawler.MaxPages,
		FetchTimeout:     cfg.FetchTimeout(),
		JSRenderBudget:   cfg.Crawler.JSRenderBudget,
		MaxLinksPerPage:  cfg.Crawler.MaxLinksPerPage,
		AllowSubdomains:  cfg.Crawler.AllowSubdomains,
		SitemapSeedLimit: cfg.Crawler.SitemapSeedLimit,
		ArchiveHTML:      cfg.Crawler.ArchiveHTML,
		PublishTopic:     cfg.PubSub.TopicName,
	}, orchestrator.Deps{
		Store:           store,
		Policies:        policies,
		Fetcher:         static,
		Renderer:        renderer,
		Hub:             hub,
		Sink:            sink,
		Pub:             pub,
		Archive:         blobs,
		Logger:          logger,
		DedupThreshold:  cfg.Crawler.NearDupThreshold,
		DedupRetention:  time.Duration(cfg.Crawler.FingerprintTTLHours) * time.Hour,
		PolitenessDelay: cfg.PolitenessDelay(),
		MaxCrawlDelay:   time.Duration(cfg.Crawler.MaxCrawlDelaySec) * time.Second,
	})

	var searchSvc api.SearchService
	if searchClient != nil {
		searchSvc = searchClient
	}
	apiServer := api.NewServer(manager, searchSvc, api.Options{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("job shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildSearch assembles the guarded provider chain; a nil return disables
// the search endpoint.
func buildSearch(cfg config.Config, store kv.Store, logger *zap.Logger) *resilience.SearchClient {
	byName := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		byName[p.Name] = p
	}
	order := cfg.Search.ProviderOrder
	if len(order) == 0 {
		for _, p := range cfg.Providers {
			order = append(order, p.Name)
		}
	}
	if len(order) == 0 {
		return nil
	}

	limiter := ratelimit.New(ratelimit.Config{
		Default: ratelimit.Limit{
			RPS:   cfg.RateLimit.DefaultRPS,
			Burst: cfg.RateLimit.DefaultBurst,
		},
		MaxWaiters: cfg.RateLimit.MaxWaiters,
	})
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		VolumeThreshold:  cfg.Breaker.VolumeThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
	}, logger)
	resultCache := cache.New("search", cache.Config{
		DefaultTTL:       time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		CompressMinBytes: cfg.Cache.CompressMinBytes,
	}, store)
	client := resilience.NewClient(limiter, breakers, resultCache, logger)

	var providers []provider.Provider
	ttls := make(map[string]time.Duration)
	for _, name := range order {
		pc, ok := byName[name]
		if !ok {
			logger.Warn("provider in search order is not configured", zap.String("provider", name))
			continue
		}
		providers = append(providers, provider.NewHTTP(provider.HTTPConfig{
			Name:     pc.Name,
			Endpoint: pc.Endpoint,
			APIKey:   pc.APIKey,
			Timeout:  cfg.FetchTimeout(),
		}))
		limiter.SetLimit(pc.Name, ratelimit.Limit{RPS: pc.RPS, Burst: pc.Burst})
		if pc.TTLSeconds > 0 {
			ttls[pc.Name] = time.Duration(pc.TTLSeconds) * time.Second
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return resilience.NewSearchClient(client, providers, ttls, logger)
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (crawl.BlobStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return archive.NewMemory(), nil
	case "local":
		return archive.NewLocal(cfg.Dir)
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return archive.NewGCS(client, cfg.GCSBucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Provider)
	}
}
