// Package wiseflow provides a public SDK for embedding the data-mining
// engine as a library.
//
// Example usage:
//
//	eng, err := wiseflow.New(
//	    wiseflow.WithWorkers(2, 8),
//	    wiseflow.WithStorageDir("./data"),
//	    wiseflow.WithConnector(webConnector),
//	    wiseflow.WithMetricsAddr(":9090"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng.Start(context.Background())
//	defer eng.Stop(context.Background())
//
//	task, _ := eng.Mining.CreateTask(ctx, "crawl example", "web", map[string]any{"query": "example.com"})
//	result, _ := eng.Mining.RunTask(ctx, task.TaskID)
package wiseflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/eventbus"
	"github.com/wiseflow-dev/wiseflow/internal/facade"
	"github.com/wiseflow-dev/wiseflow/internal/mining"
	"github.com/wiseflow-dev/wiseflow/internal/observability"
	"github.com/wiseflow-dev/wiseflow/internal/probe"
	"github.com/wiseflow-dev/wiseflow/internal/shutdown"
	"github.com/wiseflow-dev/wiseflow/internal/storage"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine/monitor"
	"github.com/wiseflow-dev/wiseflow/internal/taskmanager"
)

// settings collects the values Option funcs configure before New builds
// the engine's collaborators.
type settings struct {
	mode          facade.Mode
	minWorkers    int
	maxWorkers    int
	storageDir    string
	historyLimit  int
	probeHistory  int
	probeInterval time.Duration
	autoShutdown  shutdown.Config
	verbose       bool
	connectors    []connector.Connector
	metricsAddr   string
}

// Option configures an Engine before construction.
type Option func(*settings)

// WithMode selects legacy (dependency-graph) or direct dispatch for newly
// registered tasks. Defaults to direct.
func WithMode(mode facade.Mode) Option { return func(s *settings) { s.mode = mode } }

// WithWorkers sets the worker pool's [min, max] size.
func WithWorkers(min, max int) Option {
	return func(s *settings) { s.minWorkers, s.maxWorkers = min, max }
}

// WithStorageDir sets the on-disk directory for the file-backed store.
func WithStorageDir(dir string) Option { return func(s *settings) { s.storageDir = dir } }

// WithHistoryLimit bounds the execution history retained per task by the
// monitor and, in legacy mode, the task manager.
func WithHistoryLimit(n int) Option { return func(s *settings) { s.historyLimit = n } }

// WithAutoShutdown enables the idle/resource/completion supervisor.
func WithAutoShutdown(cfg shutdown.Config) Option {
	return func(s *settings) { s.autoShutdown = cfg }
}

// WithConnector registers a data-source connector available to mining
// tasks whose type matches the connector's name.
func WithConnector(c connector.Connector) Option {
	return func(s *settings) { s.connectors = append(s.connectors, c) }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option { return func(s *settings) { s.verbose = true } }

// WithMetricsAddr starts a Prometheus "/metrics" + "/health" server on addr
// (e.g. ":9090") alongside the engine. Left unset, no metrics server runs.
func WithMetricsAddr(addr string) Option { return func(s *settings) { s.metricsAddr = addr } }

// Engine is the embeddable public surface over the worker pool, monitor,
// task manager, mining manager, event bus, and auto-shutdown supervisor.
type Engine struct {
	logger   *slog.Logger
	settings settings

	// Tasks is the unified register/execute/cancel/status/result/error/
	// list/cleanup surface (spec C14).
	Tasks *facade.Manager
	// Mining is the persisted mining-task and interconnection API
	// (spec C11).
	Mining *mining.Manager
	// Events is the typed lifecycle event bus (spec C13).
	Events *eventbus.Bus

	store      storage.Store
	pool       *taskengine.Pool
	legacy     *taskmanager.Manager
	probe      *probe.Probe
	supervisor *shutdown.Supervisor
	metrics    *observability.Server

	cancel context.CancelFunc
}

// New builds an Engine from opts. It does not start any background
// loops; call Start for that.
func New(opts ...Option) (*Engine, error) {
	s := settings{
		mode:          facade.ModeDirect,
		minWorkers:    2,
		maxWorkers:    8,
		storageDir:    "./data",
		historyLimit:  100,
		probeHistory:  60,
		probeInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}

	level := slog.LevelInfo
	if s.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := storage.NewFileStore(s.storageDir)
	if err != nil {
		return nil, fmt.Errorf("wiseflow: create storage: %w", err)
	}

	rp := probe.New(logger, s.probeHistory, s.storageDir, probe.Thresholds{
		CPUPercent:  s.autoShutdown.ResourceThresholds.CPUPercent,
		MemPercent:  s.autoShutdown.ResourceThresholds.MemPercent,
		DiskPercent: s.autoShutdown.ResourceThresholds.DiskPercent,
	})

	bus := eventbus.New(logger)
	mon := monitor.New(logger, s.historyLimit, 0.5)
	pool := taskengine.New(logger, rp, bus, taskengine.Config{MinWorkers: s.minWorkers, MaxWorkers: s.maxWorkers})

	registry := connector.NewRegistry(logger)
	for _, c := range s.connectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("wiseflow: register connector %s: %w", c.Name(), err)
		}
	}

	var legacy *taskmanager.Manager
	if s.mode == facade.ModeLegacy {
		legacy = taskmanager.New(logger, pool, mon, s.historyLimit)
	}

	tasks := facade.New(logger, s.mode, legacy, pool, mon)
	miningMgr := mining.New(logger, store, pool, mon, registry, bus)

	var supervisor *shutdown.Supervisor
	if s.autoShutdown.Enabled {
		supervisor = shutdown.New(logger, s.autoShutdown, resourceProbeAdapter{rp}, miningMgr, bus, func(ctx context.Context) error {
			return pool.Shutdown(ctx)
		})
	}

	var metrics *observability.Server
	if s.metricsAddr != "" {
		metrics = observability.NewServer(logger, s.metricsAddr, "/metrics", pool.Metrics())
	}

	return &Engine{
		logger:     logger,
		settings:   s,
		Tasks:      tasks,
		Mining:     miningMgr,
		Events:     bus,
		store:      store,
		pool:       pool,
		legacy:     legacy,
		probe:      rp,
		supervisor: supervisor,
		metrics:    metrics,
	}, nil
}

// Start launches the pool's dynamic-sizing loop, the resource probe's
// sampling loop, the legacy scheduler (if wired), and the auto-shutdown
// supervisor (if enabled). It does not block.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.pool.Start(runCtx)
	go e.probe.Run(runCtx, e.settings.probeInterval)
	if e.legacy != nil {
		e.legacy.StartScheduler()
	}
	if e.supervisor != nil {
		go e.supervisor.Run(runCtx)
	}
	if e.metrics != nil {
		e.metrics.Start()
	}
}

// Stop gracefully shuts down the pool and the legacy scheduler, then
// closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.legacy != nil {
		e.legacy.StopScheduler(ctx)
	}
	if e.metrics != nil {
		if err := e.metrics.Shutdown(ctx); err != nil {
			e.logger.Warn("metrics server shutdown error", "error", err)
		}
	}
	if err := e.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("wiseflow: shutdown pool: %w", err)
	}
	return e.store.Close()
}

// resourceProbeAdapter narrows *probe.Probe's richer Sample (which also
// carries IOPercent and a timestamp) to the CPU/mem/disk triple the
// auto-shutdown supervisor's predicate needs.
type resourceProbeAdapter struct{ p *probe.Probe }

func (a resourceProbeAdapter) Latest() shutdown.ResourceSample {
	s := a.p.Latest()
	return shutdown.ResourceSample{CPUPercent: s.CPUPercent, MemPercent: s.MemPercent, DiskPercent: s.DiskPercent}
}
