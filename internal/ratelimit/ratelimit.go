// Package ratelimit implements the rate governor (spec C2): a per-key
// sliding-window admission controller with an adaptive cooldown that
// tightens or relaxes itself from observed latency and HTTP status.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

const window = 60 * time.Second

// Budget is the per-key admission state: a sliding window of admission
// timestamps plus the current limit/cooldown pair.
type Budget struct {
	mu       sync.Mutex
	limit    int
	cooldown time.Duration
	hits     []time.Time
	lastHit  time.Time
}

func newBudget(limit int, cooldown time.Duration) *Budget {
	return &Budget{limit: limit, cooldown: cooldown}
}

// Snapshot is a read-only copy of a Budget's current state, safe to read
// after the governor's lock has been released.
type Snapshot struct {
	Limit    int
	Cooldown time.Duration
	Hits     int
	LastHit  time.Time
}

// Governor tracks one Budget per key ("host", "owner/repo", or any caller
// chosen rate-limit domain).
type Governor struct {
	logger *slog.Logger

	defaultLimit    int
	defaultCooldown time.Duration

	mu      sync.Mutex
	budgets map[string]*Budget
}

// New creates a Governor. defaultLimit/defaultCooldown seed a key's Budget
// the first time it is seen.
func New(logger *slog.Logger, defaultLimit int, defaultCooldown time.Duration) *Governor {
	if defaultLimit <= 0 {
		defaultLimit = 60
	}
	if defaultCooldown <= 0 {
		defaultCooldown = time.Second
	}
	return &Governor{
		logger:          logger.With("component", "rate_governor"),
		defaultLimit:    defaultLimit,
		defaultCooldown: defaultCooldown,
		budgets:         make(map[string]*Budget),
	}
}

func (g *Governor) budgetFor(key string) *Budget {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.budgets[key]
	if !ok {
		b = newBudget(g.defaultLimit, g.defaultCooldown)
		g.budgets[key] = b
	}
	return b
}

func (b *Budget) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(b.hits); i++ {
		if b.hits[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.hits = b.hits[i:]
	}
}

// ShouldThrottle reports whether a request against key should wait before
// being sent, and for how long. It prunes the sliding window first; the
// wait is the larger of "until the oldest admission falls out of the
// window" and "until the cooldown since the last hit elapses".
func (g *Governor) ShouldThrottle(key string) (wait bool, duration time.Duration) {
	b := g.budgetFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.prune(now)

	var capWait time.Duration
	if len(b.hits) >= b.limit {
		oldest := b.hits[0]
		capWait = oldest.Add(window).Sub(now)
		if capWait < b.cooldown {
			capWait = b.cooldown
		}
	}

	var cooldownWait time.Duration
	if !b.lastHit.IsZero() {
		sinceLast := now.Sub(b.lastHit)
		if sinceLast < b.cooldown {
			cooldownWait = b.cooldown - sinceLast
		}
	}

	duration = capWait
	if cooldownWait > duration {
		duration = cooldownWait
	}
	if duration <= 0 {
		return false, 0
	}
	return true, duration
}

// SetOverride seeds key's Budget with a limit/cooldown pair that differs
// from the governor's default, per configuration's ratelimit.per_domain
// map. It replaces any existing Budget for key outright, discarding its
// recorded hits and any adapted limit/cooldown.
func (g *Governor) SetOverride(key string, limit int, cooldown time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgets[key] = newBudget(limit, cooldown)
}

// Register records an admission for key: appends "now" to the sliding
// window and prunes entries older than the window.
func (g *Governor) Register(key string) {
	b := g.budgetFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.prune(now)
	b.hits = append(b.hits, now)
	b.lastHit = now
}

// Adapt adjusts key's limit and cooldown from an observed response
// latency and HTTP status, per the fixed rule table: slow or
// rate-limited responses tighten the budget, fast clean ones (neither 429
// nor 5xx) relax it.
func (g *Governor) Adapt(key string, latency time.Duration, status int) {
	b := g.budgetFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case latency > 2*time.Second:
		b.limit = maxInt(5, b.limit/2)
		b.cooldown = minDuration(5*time.Second, scaleDuration(b.cooldown, 1.5))
	case latency < 500*time.Millisecond && status != 429 && status < 500:
		b.limit = minInt(120, b.limit+5)
		b.cooldown = maxDuration(500*time.Millisecond, scaleDuration(b.cooldown, 0.9))
	}

	switch {
	case status == 429:
		b.limit = maxInt(3, b.limit/3)
		b.cooldown = minDuration(10*time.Second, scaleDuration(b.cooldown, 3))
	case status >= 500:
		b.limit = maxInt(10, b.limit/2)
		b.cooldown = minDuration(5*time.Second, scaleDuration(b.cooldown, 2))
	}

	g.logger.Debug("rate budget adapted",
		"key", key, "latency", latency, "status", status,
		"limit", b.limit, "cooldown", b.cooldown)
}

// Snapshot returns key's current limit/cooldown/hit-count for diagnostics
// and tests, without mutating state.
func (g *Governor) Snapshot(key string) Snapshot {
	b := g.budgetFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(time.Now())
	return Snapshot{
		Limit:    b.limit,
		Cooldown: b.cooldown,
		Hits:     len(b.hits),
		LastHit:  b.lastHit,
	}
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
