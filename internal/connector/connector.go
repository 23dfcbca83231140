// Package connector defines the abstract source interface (spec C5): the
// capability surface every source family (web, REST/GitHub, and future
// connectors) implements, a registry for looking connectors up by name,
// and the retry harness that wraps every collection attempt.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// secretLikeKeys never appear in a Status' SafeConfig regardless of a
// connector's own whitelist.
var secretLikeKeys = map[string]struct{}{
	"api_key":  {},
	"token":    {},
	"password": {},
	"secret":   {},
}

// Status is the snapshot returned by Connector.Status.
type Status struct {
	Name       string
	Type       string
	LastRun    time.Time
	ErrorCount int
	Enabled    bool
	SafeConfig map[string]any
}

// Connector is the capability interface every source family implements.
type Connector interface {
	Name() string
	Type() string
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Collect(ctx context.Context, params map[string]any) ([]*types.DataItem, error)
	CollectAsync(ctx context.Context, params map[string]any) ([]*types.DataItem, error)
	Status() Status
}

// BaseConfig is the common connector-level config every family embeds:
// enablement, the connector's own config map, and the whitelist of extra
// keys (beyond the default safe set) this connector's config exposes
// through Status.
type BaseConfig struct {
	Enabled         bool
	Config          map[string]any
	SafeConfigExtra []string
}

// defaultSafeKeys is the whitelist of non-sensitive config keys every
// connector exposes through Status by default.
var defaultSafeKeys = map[string]struct{}{
	"name":        {},
	"type":        {},
	"base_url":    {},
	"timeout":     {},
	"max_retries": {},
	"retry_delay": {},
	"concurrency": {},
	"rate_limit":  {},
	"cache_ttl":   {},
}

// SafeConfig filters cfg through the default whitelist plus extra,
// unconditionally excluding any secret-like key.
func SafeConfig(cfg map[string]any, extra []string) map[string]any {
	allowed := make(map[string]struct{}, len(defaultSafeKeys)+len(extra))
	for k := range defaultSafeKeys {
		allowed[k] = struct{}{}
	}
	for _, k := range extra {
		allowed[k] = struct{}{}
	}

	out := make(map[string]any)
	for k, v := range cfg {
		if _, secret := secretLikeKeys[k]; secret {
			continue
		}
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Base implements the bookkeeping shared by every connector
// (error_count/last_run tracking, enabled flag) so concrete connectors
// only need to implement Collect.
type Base struct {
	mu         sync.Mutex
	name       string
	typ        string
	cfg        BaseConfig
	lastRun    time.Time
	errorCount int
}

// NewBase constructs the shared bookkeeping for a connector named name of
// type typ.
func NewBase(name, typ string, cfg BaseConfig) *Base {
	return &Base{name: name, typ: typ, cfg: cfg}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Type() string { return b.typ }

// Status returns the current snapshot, with Config passed through
// SafeConfig.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:       b.name,
		Type:       b.typ,
		LastRun:    b.lastRun,
		ErrorCount: b.errorCount,
		Enabled:    b.cfg.Enabled,
		SafeConfig: SafeConfig(b.cfg.Config, b.cfg.SafeConfigExtra),
	}
}

func (b *Base) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRun = time.Now()
}

func (b *Base) recordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorCount++
}

// CollectFunc is the underlying collection attempt a concrete connector
// supplies to CollectWithRetry.
type CollectFunc func(ctx context.Context, params map[string]any) ([]*types.DataItem, error)

// CollectWithRetry wraps a single collection attempt in the retry policy
// spec §4.5 describes: one initial attempt plus at most maxRetries retries
// (maxRetries=0 means a single attempt), delay before retry k (k = 1, 2,
// ...) is retryDelay·2^(k-1), each failed attempt increments error_count
// (and logs a warning when a retry follows), a final failure logs an
// error and returns the last
// observed error, and success updates last_run.
func (b *Base) CollectWithRetry(ctx context.Context, logger *slog.Logger, maxRetries int, retryDelay time.Duration, params map[string]any, fn CollectFunc) ([]*types.DataItem, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		items, err := fn(ctx, params)
		if err == nil {
			b.recordSuccess()
			return items, nil
		}

		lastErr = err
		b.recordError()
		if attempt < maxRetries {
			logger.Warn("connector collect attempt failed, retrying",
				"connector", b.name, "attempt", attempt+1, "max_retries", maxRetries, "error", err)
		}
	}

	logger.Error("connector collect exhausted retries", "connector", b.name, "error", lastErr)
	return nil, fmt.Errorf("connector %q: collect failed after %d attempts: %w", b.name, maxRetries+1, lastErr)
}
