package config

import (
	"fmt"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Worker.Min < 1 {
		return fmt.Errorf("worker.min must be >= 1, got %d", cfg.Worker.Min)
	}
	if cfg.Worker.Max < cfg.Worker.Min {
		return fmt.Errorf("worker.max (%d) must be >= worker.min (%d)", cfg.Worker.Max, cfg.Worker.Min)
	}
	if cfg.Worker.AdjustInterval <= 0 {
		return fmt.Errorf("worker.adjust_interval must be > 0")
	}
	if cfg.Worker.HistoryLimit < 0 {
		return fmt.Errorf("worker.history_limit must be >= 0, got %d", cfg.Worker.HistoryLimit)
	}

	if cfg.RateLimit.DefaultPerMinute < 1 {
		return fmt.Errorf("ratelimit.default_per_minute must be >= 1, got %d", cfg.RateLimit.DefaultPerMinute)
	}
	if cfg.RateLimit.DefaultCooldown < 0 {
		return fmt.Errorf("ratelimit.default_cooldown must be >= 0")
	}
	for host, o := range cfg.RateLimit.PerDomain {
		if o.PerMinute < 1 {
			return fmt.Errorf("ratelimit.per_domain[%q].per_minute must be >= 1, got %d", host, o.PerMinute)
		}
	}

	if cfg.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if cfg.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0, got %d", cfg.Fetch.MaxRetries)
	}
	if cfg.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch.retry_delay must be >= 0")
	}

	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when cache.enabled is true")
	}

	for family, c := range cfg.Connectors {
		if c.Enabled && c.Concurrency < 1 {
			return fmt.Errorf("connector.%s.concurrency must be >= 1, got %d", family, c.Concurrency)
		}
	}

	if cfg.AutoShutdown.Enabled {
		if cfg.AutoShutdown.IdleTimeout <= 0 {
			return fmt.Errorf("autoshutdown.idle_timeout must be > 0")
		}
		if cfg.AutoShutdown.CheckInterval <= 0 {
			return fmt.Errorf("autoshutdown.check_interval must be > 0")
		}
		for name, pct := range map[string]float64{
			"cpu_pct":  cfg.AutoShutdown.Thresholds.CPUPercent,
			"mem_pct":  cfg.AutoShutdown.Thresholds.MemPercent,
			"disk_pct": cfg.AutoShutdown.Thresholds.DiskPercent,
		} {
			if pct <= 0 || pct > 100 {
				return fmt.Errorf("autoshutdown.thresholds.%s must be in (0, 100], got %v", name, pct)
			}
		}
		if cfg.AutoShutdown.GracefulTimeout <= 0 {
			return fmt.Errorf("autoshutdown.graceful_timeout must be > 0")
		}
	}

	validStorageTypes := map[string]bool{"file": true, "mongo": true}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: file, mongo)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "mongo" && cfg.Storage.URI == "" {
		return fmt.Errorf("storage.uri is required when storage.type is mongo")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics.enabled is true")
	}

	return nil
}
