// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Crawler   CrawlerConfig    `mapstructure:"crawler"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Headless  HeadlessConfig   `mapstructure:"headless"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Breaker   BreakerConfig    `mapstructure:"breaker"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Search    SearchConfig     `mapstructure:"search"`
	DB        DBConfig         `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the orchestrator and frontier.
type CrawlerConfig struct {
	Workers             int     `mapstructure:"workers"`
	MaxDepth            int     `mapstructure:"max_depth"`
	MaxPages            int     `mapstructure:"max_pages"`
	UserAgent           string  `mapstructure:"user_agent"`
	PolitenessDelayMs   int     `mapstructure:"politeness_delay_ms"`
	MaxCrawlDelaySec    int     `mapstructure:"max_crawl_delay_seconds"`
	JSRenderBudget      float64 `mapstructure:"js_render_budget"`
	MaxLinksPerPage     int     `mapstructure:"max_links_per_page"`
	AllowSubdomains     bool    `mapstructure:"allow_subdomains"`
	SitemapSeedLimit    int     `mapstructure:"sitemap_seed_limit"`
	NearDupThreshold    float64 `mapstructure:"near_dup_threshold"`
	ArchiveHTML         bool    `mapstructure:"archive_html"`
	RobotsTTLHours      int     `mapstructure:"robots_ttl_hours"`
	FingerprintTTLHours int     `mapstructure:"fingerprint_ttl_hours"`
}

// HTTPConfig configures the static fetch path.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	MaxTabs            int    `mapstructure:"max_tabs"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	ContentWaitSec     int    `mapstructure:"content_wait_seconds"`
	ContentSelector    string `mapstructure:"content_selector"`
	ScrollBeforeUnload bool   `mapstructure:"scroll_before_unload"`
}

// RedisConfig controls the kv store. An empty Addr selects the in-memory
// store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BreakerConfig holds circuit breaker thresholds shared by all providers.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	VolumeThreshold  int `mapstructure:"volume_threshold"`
	SuccessThreshold int `mapstructure:"success_threshold"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
}

// RateLimitConfig holds token bucket defaults for provider calls.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
	MaxWaiters   int     `mapstructure:"max_waiters"`
}

// CacheConfig tunes the result cache.
type CacheConfig struct {
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
	CompressMinBytes  int `mapstructure:"compress_min_bytes"`
}

// SearchConfig orders the provider fallback chain by name.
type SearchConfig struct {
	ProviderOrder []string `mapstructure:"provider_order"`
}

// ProviderConfig describes one external search-results provider.
type ProviderConfig struct {
	Name       string  `mapstructure:"name"`
	Endpoint   string  `mapstructure:"endpoint"`
	APIKey     string  `mapstructure:"api_key"`
	TTLSeconds int     `mapstructure:"ttl_seconds"`
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
}

// DBConfig controls the optional postgres result store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for the optional result publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects where raw HTML snapshots are written.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"` // memory, local, gcs
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GEOCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.user_agent", "geocrawl-bot/1.0 (+https://rankmybrand.ai/bot)")
	v.SetDefault("crawler.politeness_delay_ms", 1000)
	v.SetDefault("crawler.max_crawl_delay_seconds", 30)
	v.SetDefault("crawler.js_render_budget", 0.10)
	v.SetDefault("crawler.max_links_per_page", 50)
	v.SetDefault("crawler.sitemap_seed_limit", 20)
	v.SetDefault("crawler.near_dup_threshold", 0.85)
	v.SetDefault("crawler.robots_ttl_hours", 24)
	v.SetDefault("crawler.fingerprint_ttl_hours", 168)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_tabs", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.content_wait_seconds", 5)
	v.SetDefault("headless.content_selector", "article, main, #content")
	v.SetDefault("headless.scroll_before_unload", true)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.volume_threshold", 10)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.timeout_seconds", 30)
	v.SetDefault("rate_limit.default_rps", 2)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("rate_limit.max_waiters", 64)
	v.SetDefault("cache.default_ttl_seconds", 3600)
	v.SetDefault("cache.compress_min_bytes", 1024)
	v.SetDefault("archive.provider", "memory")
	v.SetDefault("archive.prefix", "pages")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.JSRenderBudget < 0 || c.Crawler.JSRenderBudget > 1 {
		return fmt.Errorf("crawler.js_render_budget must be in [0, 1]")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxTabs <= 0 {
		return fmt.Errorf("headless.max_tabs must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[].name must be set")
		}
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PolitenessDelay converts the configured per-domain delay into a duration.
func (c Config) PolitenessDelay() time.Duration {
	return time.Duration(c.Crawler.PolitenessDelayMs) * time.Millisecond
}
