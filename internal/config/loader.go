package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults. CLI
// flags are not read here; callers apply their own overrides afterwards.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("WISEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("wiseflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".wiseflow"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper so AutomaticEnv and
// ReadInConfig layer on top of them rather than replacing them outright.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("worker.min", cfg.Worker.Min)
	v.SetDefault("worker.max", cfg.Worker.Max)
	v.SetDefault("worker.adjust_interval", cfg.Worker.AdjustInterval)
	v.SetDefault("worker.history_limit", cfg.Worker.HistoryLimit)

	v.SetDefault("ratelimit.default_per_minute", cfg.RateLimit.DefaultPerMinute)
	v.SetDefault("ratelimit.default_cooldown", cfg.RateLimit.DefaultCooldown)

	v.SetDefault("fetch.timeout", cfg.Fetch.Timeout)
	v.SetDefault("fetch.max_retries", cfg.Fetch.MaxRetries)
	v.SetDefault("fetch.retry_delay", cfg.Fetch.RetryDelay)
	v.SetDefault("fetch.user_agent", cfg.Fetch.UserAgent)

	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.dir", cfg.Cache.Dir)

	v.SetDefault("autoshutdown.enabled", cfg.AutoShutdown.Enabled)
	v.SetDefault("autoshutdown.idle_timeout", cfg.AutoShutdown.IdleTimeout)
	v.SetDefault("autoshutdown.check_interval", cfg.AutoShutdown.CheckInterval)
	v.SetDefault("autoshutdown.thresholds.cpu_pct", cfg.AutoShutdown.Thresholds.CPUPercent)
	v.SetDefault("autoshutdown.thresholds.mem_pct", cfg.AutoShutdown.Thresholds.MemPercent)
	v.SetDefault("autoshutdown.thresholds.disk_pct", cfg.AutoShutdown.Thresholds.DiskPercent)
	v.SetDefault("autoshutdown.completion_wait", cfg.AutoShutdown.CompletionWait)
	v.SetDefault("autoshutdown.graceful_timeout", cfg.AutoShutdown.GracefulTimeout)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.dir", cfg.Storage.Dir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
