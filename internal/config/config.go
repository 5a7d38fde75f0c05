package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScraperConfig struct {
	UserAgent           string `yaml:"userAgent"`
	TimeoutMs           int    `yaml:"timeoutMs"`
	LinksSameDomainOnly bool   `yaml:"linksSameDomainOnly"`
	LinksMaxPerDocument int    `yaml:"linksMaxPerDocument"`
}

type CrawlerConfig struct {
	MaxDepthDefault      int `yaml:"maxDepthDefault"`
	MaxPagesDefault      int `yaml:"maxPagesDefault"`
	MaxDiscoveryDepth    int `yaml:"maxDiscoveryDepth"`
	SitemapTimeoutMs     int `yaml:"sitemapTimeoutMs"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RodConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	InitialAdminKey string `yaml:"initialAdminKey"`

	// PreviewKey, when set, is a shared low-limit credential for
	// documentation examples. It resolves to a synthetic principal with
	// no team (never billed) and is rate-limited per caller IP so one
	// abuser can't exhaust the shared window.
	PreviewKey string `yaml:"previewKey"`
}

// RateLimitConfig parameterizes the sliding-window admission limiter.
// Limits are expressed per team per minute and may be overridden
// per-operation; zero means "use Default".
type RateLimitConfig struct {
	DefaultPerMinute int            `yaml:"defaultPerMinute"`
	WindowSeconds    int            `yaml:"windowSeconds"`
	PerOperation     map[string]int `yaml:"perOperation"`
}

// ConcurrencyConfig parameterizes the per-team concurrency governor.
type ConcurrencyConfig struct {
	DefaultMax       int `yaml:"defaultMax"`
	LeaseTTLSeconds  int `yaml:"leaseTtlSeconds"`
	WaitTimeoutMs    int `yaml:"waitTimeoutMs"`
}

// AUCConfig parameterizes the Authenticated User Cache, which memoizes
// API-key-to-principal resolution so the hot request path avoids a
// database round trip on every call.
type AUCConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttlSeconds"`
}

// IndexConfig parameterizes the Postgres-backed result/freshness cache.
type IndexConfig struct {
	FreshnessTTLSeconds int `yaml:"freshnessTtlSeconds"`
}

// QueueConfig parameterizes the priority job queue: weighted
// round-robin shares per band, the worker visibility lease, and the
// retry ceiling for transient failures.
type QueueConfig struct {
	RealtimeWeight   int `yaml:"realtimeWeight"`
	CrawlWeight      int `yaml:"crawlWeight"`
	BackgroundWeight int `yaml:"backgroundWeight"`
	LeaseTTLSeconds  int `yaml:"leaseTtlSeconds"`
	MaxAttempts      int `yaml:"maxAttempts"`
}

// BillingConfig parameterizes the periodic credit-usage batcher.
type BillingConfig struct {
	Enabled            bool `yaml:"enabled"`
	FlushIntervalMs    int  `yaml:"flushIntervalMs"`
	MaxBatchSize       int  `yaml:"maxBatchSize"`
	LockTTLMs          int  `yaml:"lockTtlMs"`
}

type WorkerConfig struct {
	MaxConcurrentJobs       int `yaml:"maxConcurrentJobs"`
	PollIntervalMs          int `yaml:"pollIntervalMs"`
	MaxConcurrentURLsPerJob int `yaml:"maxConcurrentURLsPerJob"`
	SyncJobWaitTimeoutMs    int `yaml:"syncJobWaitTimeoutMs"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// SearxngConfig holds provider-specific configuration for SearxNG-based search.
type SearxngConfig struct {
	BaseURL      string `yaml:"baseURL"`
	DefaultLimit int    `yaml:"defaultLimit"`
	TimeoutMs    int    `yaml:"timeoutMs"`
}

// SearchConfig controls the optional /v1/search endpoint and its provider.
type SearchConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Provider             string        `yaml:"provider"`
	MaxResults           int           `yaml:"maxResults"`
	TimeoutMs            int           `yaml:"timeoutMs"`
	MaxConcurrentScrapes int           `yaml:"maxConcurrentScrapes"`
	Searxng              SearxngConfig `yaml:"searxng"`
}

// JobTTLConfig controls per-job-type retention in days.
type JobTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
	ScrapeDays  int `yaml:"scrapeDays"`
	MapDays     int `yaml:"mapDays"`
	ExtractDays int `yaml:"extractDays"`
	CrawlDays   int `yaml:"crawlDays"`
}

// DocumentTTLConfig controls retention for stored documents (every stored
// document, whatever its job type) in days.
type DocumentTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
}

// ZDRConfig controls the separate zero-data-retention sweep, which runs
// independently of (and typically far more often than) the day-granularity
// retention cleanup above.
type ZDRConfig struct {
	Enabled             bool `yaml:"enabled"`
	SweepIntervalSeconds int `yaml:"sweepIntervalSeconds"`
}

// RetentionConfig controls TTL-like deletion of old jobs and documents
// so that the database does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool              `yaml:"enabled"`
	CleanupIntervalMinutes int               `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig      `yaml:"jobs"`
	Documents              DocumentTTLConfig `yaml:"documents"`
	ZDR                    ZDRConfig         `yaml:"zdr"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Crawler     CrawlerConfig     `yaml:"crawler"`
	Robots      RobotsConfig      `yaml:"robots"`
	Rod         RodConfig         `yaml:"rod"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	AUC         AUCConfig         `yaml:"auc"`
	Index       IndexConfig       `yaml:"index"`
	Queue       QueueConfig       `yaml:"queue"`
	Billing     BillingConfig     `yaml:"billing"`
	Worker      WorkerConfig      `yaml:"worker"`
	LLM         LLMConfig         `yaml:"llm"`
	Search      SearchConfig      `yaml:"search"`
	Retention   RetentionConfig   `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()

	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.RateLimit.DefaultPerMinute == 0 {
		cfg.RateLimit.DefaultPerMinute = 60
	}
	if cfg.Concurrency.DefaultMax == 0 {
		cfg.Concurrency.DefaultMax = 10
	}
	if cfg.Concurrency.LeaseTTLSeconds == 0 {
		cfg.Concurrency.LeaseTTLSeconds = 120
	}
	if cfg.Concurrency.WaitTimeoutMs == 0 {
		cfg.Concurrency.WaitTimeoutMs = 30000
	}
	if cfg.AUC.TTLSeconds == 0 {
		cfg.AUC.TTLSeconds = 600
	}
	if cfg.Index.FreshnessTTLSeconds == 0 {
		cfg.Index.FreshnessTTLSeconds = 2 * 24 * 3600
	}
	if cfg.Queue.RealtimeWeight == 0 && cfg.Queue.CrawlWeight == 0 && cfg.Queue.BackgroundWeight == 0 {
		cfg.Queue.RealtimeWeight = 4
		cfg.Queue.CrawlWeight = 2
		cfg.Queue.BackgroundWeight = 1
	}
	if cfg.Queue.LeaseTTLSeconds == 0 {
		cfg.Queue.LeaseTTLSeconds = 300
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Billing.FlushIntervalMs == 0 {
		cfg.Billing.FlushIntervalMs = 15000
	}
	if cfg.Billing.MaxBatchSize == 0 {
		cfg.Billing.MaxBatchSize = 100
	}
	if cfg.Billing.LockTTLMs == 0 {
		cfg.Billing.LockTTLMs = 10000
	}
	if cfg.Retention.ZDR.SweepIntervalSeconds == 0 {
		cfg.Retention.ZDR.SweepIntervalSeconds = 300
	}
	if cfg.Crawler.MaxDiscoveryDepth == 0 {
		cfg.Crawler.MaxDiscoveryDepth = cfg.Crawler.MaxDepthDefault
	}
	if cfg.Crawler.SitemapTimeoutMs == 0 {
		cfg.Crawler.SitemapTimeoutMs = 10000
	}
}

func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if provider == "" {
		return errors.New("llm.defaultProvider must be set to 'openai', 'anthropic', or 'google'")
	}

	switch provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
			return errors.New("openai llm provider is not fully configured")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
			return errors.New("anthropic llm provider is not fully configured")
		}
	case "google":
		if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
			return errors.New("google llm provider is not fully configured")
		}
	default:
		return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
	}

	return nil
}
