// Package shutdown implements the auto-shutdown supervisor (spec C12): a
// periodic check of idle/resource-pressure/completion predicates that
// triggers a graceful shutdown sequence, and the signal handlers that feed
// into the same path.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ResourceSample is the subset of a C1 probe reading the resource
// predicate checks.
type ResourceSample struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// ResourceProbe supplies the most recent sample.
type ResourceProbe interface {
	Latest() ResourceSample
}

// TaskLister supplies every task's auto_shutdown flag and terminal status
// for the completion predicate.
type TaskLister interface {
	// AutoShutdownTasksTerminal reports whether at least one task has
	// auto_shutdown set, and whether every such task has reached a
	// terminal status (completed, failed, or cancelled).
	AutoShutdownTasksTerminal() (hasAutoShutdownTasks, allTerminal bool)
}

// EventPublisher is the C13 collaborator notified of the shutdown trigger.
type EventPublisher interface {
	Publish(eventType string, payload map[string]any)
}

// ShutdownFunc performs the task engine's own shutdown sequence.
type ShutdownFunc func(ctx context.Context) error

// Thresholds configures the resource-pressure predicate.
type Thresholds struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Config controls the supervisor's cadence and grace windows.
type Config struct {
	Enabled            bool
	IdleTimeout        time.Duration
	CheckInterval      time.Duration
	ResourceThresholds Thresholds
	CompletionWait     time.Duration
	GracefulTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Hour
	}
	if c.CompletionWait <= 0 {
		c.CompletionWait = 5 * time.Minute
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 30 * time.Second
	}
	return c
}

// Supervisor is the spec C12 auto-shutdown supervisor.
type Supervisor struct {
	logger    *slog.Logger
	cfg       Config
	probe     ResourceProbe
	tasks     TaskLister
	publisher EventPublisher
	shutdown  ShutdownFunc

	mu               sync.Mutex
	lastActivity     time.Time
	shutdownOnce     sync.Once
	shutdownRequested bool
	shutdownReason   string

	// completionArmedAt is set the first time the completion predicate is
	// observed true; the supervisor re-checks after CompletionWait before
	// triggering, matching the original "wait, then re-check" grace step.
	completionArmedAt time.Time
}

// New constructs a Supervisor. probe, tasks, and publisher may be nil —
// a nil probe/tasks disables the corresponding predicate.
func New(logger *slog.Logger, cfg Config, probe ResourceProbe, tasks TaskLister, publisher EventPublisher, shutdownFn ShutdownFunc) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		logger:       logger.With("component", "auto_shutdown"),
		cfg:          cfg,
		probe:        probe,
		tasks:        tasks,
		publisher:    publisher,
		shutdown:     shutdownFn,
		lastActivity: time.Now(),
	}
}

// Touch records activity, resetting the idle predicate's clock.
func (s *Supervisor) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// Run starts the periodic predicate check loop and the OS signal handler.
// It blocks until ctx is done or a shutdown is triggered and its sequence
// completes.
func (s *Supervisor) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("auto-shutdown disabled")
		<-ctx.Done()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			s.logger.Info("received signal, initiating shutdown", "signal", sig)
			s.trigger(ctx, fmt.Sprintf("signal received: %s", sig))
			return
		case <-ticker.C:
			if reason, fire := s.checkPredicates(); fire {
				s.trigger(ctx, reason)
				return
			}
		}
	}
}

// checkPredicates evaluates idle, resource-pressure, and completion in
// that order, returning the first predicate that fires.
func (s *Supervisor) checkPredicates() (reason string, fire bool) {
	if reason, fire := s.checkIdle(); fire {
		return reason, true
	}
	if reason, fire := s.checkResourcePressure(); fire {
		return reason, true
	}
	return s.checkCompletion()
}

func (s *Supervisor) checkIdle() (string, bool) {
	s.mu.Lock()
	idleFor := time.Since(s.lastActivity)
	s.mu.Unlock()

	if idleFor <= s.cfg.IdleTimeout {
		return "", false
	}
	return fmt.Sprintf("idle timeout exceeded (%s > %s)", idleFor.Round(time.Second), s.cfg.IdleTimeout), true
}

func (s *Supervisor) checkResourcePressure() (string, bool) {
	if s.probe == nil {
		return "", false
	}
	sample := s.probe.Latest()
	t := s.cfg.ResourceThresholds

	switch {
	case t.CPUPercent > 0 && sample.CPUPercent > t.CPUPercent:
		return fmt.Sprintf("cpu usage exceeded threshold (%.1f%% > %.1f%%)", sample.CPUPercent, t.CPUPercent), true
	case t.MemPercent > 0 && sample.MemPercent > t.MemPercent:
		return fmt.Sprintf("memory usage exceeded threshold (%.1f%% > %.1f%%)", sample.MemPercent, t.MemPercent), true
	case t.DiskPercent > 0 && sample.DiskPercent > t.DiskPercent:
		return fmt.Sprintf("disk usage exceeded threshold (%.1f%% > %.1f%%)", sample.DiskPercent, t.DiskPercent), true
	default:
		return "", false
	}
}

// checkCompletion implements the "detect, wait, re-check" sequence: the
// first time every auto_shutdown task is terminal, it arms a timer; only
// once CompletionWait has elapsed AND the condition still holds does it
// fire.
func (s *Supervisor) checkCompletion() (string, bool) {
	if s.tasks == nil {
		return "", false
	}
	hasAutoShutdown, allTerminal := s.tasks.AutoShutdownTasksTerminal()
	if !hasAutoShutdown || !allTerminal {
		s.mu.Lock()
		s.completionArmedAt = time.Time{}
		s.mu.Unlock()
		return "", false
	}

	s.mu.Lock()
	if s.completionArmedAt.IsZero() {
		s.completionArmedAt = time.Now()
		s.mu.Unlock()
		s.logger.Info("all auto-shutdown tasks complete, arming completion timer", "wait", s.cfg.CompletionWait)
		return "", false
	}
	armedFor := time.Since(s.completionArmedAt)
	s.mu.Unlock()

	if armedFor < s.cfg.CompletionWait {
		return "", false
	}
	return "all auto-shutdown tasks completed", true
}

// trigger runs the graceful shutdown sequence exactly once: publish
// system_shutdown, wait GracefulTimeout, call the task engine's shutdown.
func (s *Supervisor) trigger(ctx context.Context, reason string) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shutdownRequested = true
		s.shutdownReason = reason
		s.mu.Unlock()

		s.logger.Info("shutdown requested", "reason", reason, "graceful_timeout", s.cfg.GracefulTimeout)
		if s.publisher != nil {
			s.publisher.Publish("system_shutdown", map[string]any{"reason": reason, "graceful_timeout_s": s.cfg.GracefulTimeout.Seconds()})
		}

		select {
		case <-time.After(s.cfg.GracefulTimeout):
		case <-ctx.Done():
		}

		if s.shutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulTimeout)
			defer cancel()
			if err := s.shutdown(shutdownCtx); err != nil {
				s.logger.Error("task engine shutdown failed", "error", err)
			}
		}
		s.logger.Info("shutdown complete", "reason", reason)
	})
}

// Requested reports whether a shutdown has been triggered, and why.
func (s *Supervisor) Requested() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested, s.shutdownReason
}
