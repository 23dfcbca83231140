package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the Wiseflow engine. Every
// configuration option named in spec.md §6 gets a field here, grouped by
// the component it configures.
type Config struct {
	Worker       WorkerConfig                     `mapstructure:"worker"       yaml:"worker"`
	RateLimit    RateLimitConfig                   `mapstructure:"ratelimit"    yaml:"ratelimit"`
	Fetch        FetchConfig                       `mapstructure:"fetch"        yaml:"fetch"`
	Cache        CacheConfig                       `mapstructure:"cache"        yaml:"cache"`
	Connectors   map[string]ConnectorFamilyConfig  `mapstructure:"connector"    yaml:"connector"`
	AutoShutdown AutoShutdownConfig                `mapstructure:"autoshutdown" yaml:"autoshutdown"`
	Storage      StorageConfig                     `mapstructure:"storage"      yaml:"storage"`
	Logging      LoggingConfig                     `mapstructure:"logging"      yaml:"logging"`
	Metrics      MetricsConfig                     `mapstructure:"metrics"      yaml:"metrics"`
}

// WorkerConfig controls the worker pool (spec C8).
type WorkerConfig struct {
	Min             int           `mapstructure:"min"             yaml:"min"`
	Max             int           `mapstructure:"max"             yaml:"max"`
	AdjustInterval  time.Duration `mapstructure:"adjust_interval" yaml:"adjust_interval"`
	HistoryLimit    int           `mapstructure:"history_limit"   yaml:"history_limit"`
}

// RateLimitConfig controls the rate governor (spec C2).
type RateLimitConfig struct {
	DefaultPerMinute int                      `mapstructure:"default_per_minute" yaml:"default_per_minute"`
	DefaultCooldown  time.Duration            `mapstructure:"default_cooldown"   yaml:"default_cooldown"`
	PerDomain        map[string]DomainOverride `mapstructure:"per_domain"        yaml:"per_domain"`
}

// DomainOverride replaces the default limit/cooldown for one rate-limit
// key (typically a host).
type DomainOverride struct {
	PerMinute int           `mapstructure:"per_minute" yaml:"per_minute"`
	Cooldown  time.Duration `mapstructure:"cooldown"   yaml:"cooldown"`
}

// FetchConfig controls the fetcher (spec C4).
type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"     yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"  yaml:"user_agent"`
}

// CacheConfig controls the response cache (spec C3).
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"     yaml:"ttl"`
	Dir     string        `mapstructure:"dir"     yaml:"dir"`
}

// ConnectorFamilyConfig configures one connector family ("web", "rest",
// or any future family), keyed by family name in Config.Connectors.
// Extra carries any family-specific keys beyond the common ones, passed
// through verbatim to connector.BaseConfig.Config.
type ConnectorFamilyConfig struct {
	Enabled     bool           `mapstructure:"enabled"     yaml:"enabled"`
	Concurrency int            `mapstructure:"concurrency" yaml:"concurrency"`
	APIKey      string         `mapstructure:"api_key"     yaml:"api_key"`
	APIBase     string         `mapstructure:"api_base"    yaml:"api_base"`
	Extra       map[string]any `mapstructure:",remain"     yaml:",inline"`
}

// AutoShutdownConfig controls the auto-shutdown supervisor (spec C12).
type AutoShutdownConfig struct {
	Enabled         bool                `mapstructure:"enabled"          yaml:"enabled"`
	IdleTimeout     time.Duration       `mapstructure:"idle_timeout"     yaml:"idle_timeout"`
	CheckInterval   time.Duration       `mapstructure:"check_interval"   yaml:"check_interval"`
	Thresholds      ResourceThresholds  `mapstructure:"thresholds"       yaml:"thresholds"`
	CompletionWait  time.Duration       `mapstructure:"completion_wait"  yaml:"completion_wait"`
	GracefulTimeout time.Duration       `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
}

// ResourceThresholds mirrors internal/shutdown.Thresholds, expressed in
// percent-of-capacity for CPU, memory, and disk.
type ResourceThresholds struct {
	CPUPercent  float64 `mapstructure:"cpu_pct"  yaml:"cpu_pct"`
	MemPercent  float64 `mapstructure:"mem_pct"  yaml:"mem_pct"`
	DiskPercent float64 `mapstructure:"disk_pct" yaml:"disk_pct"`
}

// StorageConfig controls the persistence backend.
type StorageConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // file, mongo
	Dir  string `mapstructure:"dir"  yaml:"dir"`
	URI  string `mapstructure:"uri"  yaml:"uri"`
	DB   string `mapstructure:"db"   yaml:"db"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr"    yaml:"addr"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			Min:            2,
			Max:            8,
			AdjustInterval: 10 * time.Second,
			HistoryLimit:   100,
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: 60,
			DefaultCooldown:  time.Second,
			PerDomain:        map[string]DomainOverride{},
		},
		Fetch: FetchConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
			UserAgent:  "wiseflow/1.0",
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			Dir:     "./cache",
		},
		Connectors: map[string]ConnectorFamilyConfig{
			"web":    {Enabled: true, Concurrency: 5},
			"github": {Enabled: true, Concurrency: 5},
		},
		AutoShutdown: AutoShutdownConfig{
			Enabled:       false,
			IdleTimeout:   time.Hour,
			CheckInterval: 5 * time.Minute,
			Thresholds: ResourceThresholds{
				CPUPercent:  90,
				MemPercent:  90,
				DiskPercent: 95,
			},
			CompletionWait:  5 * time.Minute,
			GracefulTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type: "file",
			Dir:  "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}
