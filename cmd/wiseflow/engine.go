package main

import (
	"fmt"
	"log/slog"

	"github.com/wiseflow-dev/wiseflow/internal/cache"
	"github.com/wiseflow-dev/wiseflow/internal/config"
	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/connector/rest"
	"github.com/wiseflow-dev/wiseflow/internal/connector/web"
	"github.com/wiseflow-dev/wiseflow/internal/fetcher"
	"github.com/wiseflow-dev/wiseflow/internal/ratelimit"
	"github.com/wiseflow-dev/wiseflow/internal/shutdown"
	"github.com/wiseflow-dev/wiseflow/pkg/wiseflow"
)

// buildEngine wires the collaborators spec.md §6's configuration surface
// names (rate governor, response cache, fetcher, connector families) and
// hands the result to pkg/wiseflow as options, matching how the teacher's
// runCrawl built its engine's collaborators straight from *config.Config.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*wiseflow.Engine, error) {
	governor := ratelimit.New(logger, cfg.RateLimit.DefaultPerMinute, cfg.RateLimit.DefaultCooldown)
	for host, o := range cfg.RateLimit.PerDomain {
		governor.SetOverride(host, o.PerMinute, o.Cooldown)
	}

	// ttl 0 disables caching in internal/cache without a separate toggle.
	ttl := cfg.Cache.TTL
	if !cfg.Cache.Enabled {
		ttl = 0
	}
	respCache, err := cache.New(logger, cfg.Cache.Dir, ttl)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}

	f := fetcher.New(logger, governor, respCache,
		fetcher.WithUserAgent(cfg.Fetch.UserAgent),
		fetcher.WithMaxRetries(cfg.Fetch.MaxRetries),
	)

	opts := []wiseflow.Option{
		wiseflow.WithStorageDir(cfg.Storage.Dir),
		wiseflow.WithWorkers(cfg.Worker.Min, cfg.Worker.Max),
		wiseflow.WithHistoryLimit(cfg.Worker.HistoryLimit),
	}
	if verbose {
		opts = append(opts, wiseflow.WithVerbose())
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, wiseflow.WithMetricsAddr(cfg.Metrics.Addr))
	}
	if cfg.AutoShutdown.Enabled {
		opts = append(opts, wiseflow.WithAutoShutdown(shutdown.Config{
			Enabled:       true,
			IdleTimeout:   cfg.AutoShutdown.IdleTimeout,
			CheckInterval: cfg.AutoShutdown.CheckInterval,
			ResourceThresholds: shutdown.Thresholds{
				CPUPercent:  cfg.AutoShutdown.Thresholds.CPUPercent,
				MemPercent:  cfg.AutoShutdown.Thresholds.MemPercent,
				DiskPercent: cfg.AutoShutdown.Thresholds.DiskPercent,
			},
			CompletionWait:  cfg.AutoShutdown.CompletionWait,
			GracefulTimeout: cfg.AutoShutdown.GracefulTimeout,
		}))
	}

	if c, ok := cfg.Connectors["web"]; ok && c.Enabled {
		htmlFetcher := web.NewGoqueryFetcher(f, cfg.Fetch.Timeout)
		webConn := web.New(logger, governor, htmlFetcher, c.Concurrency, connector.BaseConfig{
			Enabled: true,
			Config:  map[string]any{"concurrency": c.Concurrency},
		})
		opts = append(opts, wiseflow.WithConnector(webConn))
	}
	if c, ok := cfg.Connectors["github"]; ok && c.Enabled {
		restConn := rest.New(f, rest.Config{
			Token: c.APIKey,
			BaseConfig: connector.BaseConfig{
				Enabled: true,
				Config:  map[string]any{"api_base": c.APIBase},
			},
			Timeout: cfg.Fetch.Timeout,
		})
		opts = append(opts, wiseflow.WithConnector(restConn))
	}

	return wiseflow.New(opts...)
}
