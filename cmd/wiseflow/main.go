// Command wiseflow is a thin cobra pass-through over internal/facade and
// internal/mining, exposing the external surface named in spec.md §6:
// list, fetch, process, analyze, pipeline, monitor, task
// {list|info|cancel|cleanup}.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wiseflow-dev/wiseflow/internal/config"
	"github.com/wiseflow-dev/wiseflow/pkg/wiseflow"
)

var (
	cfgFile       string
	verbose       bool
	storageDir    string
	minWorkers    int
	maxWorkers    int
	metricsAddr   string
)

// Exit codes per spec.md §6: 0 ok, 1 user error, 2 internal.
const (
	exitOK         = 0
	exitUserError  = 1
	exitInternal   = 2
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wiseflow",
		Short: "Wiseflow — data-mining and ingestion engine",
		Long: `Wiseflow ingests data from heterogeneous external sources (web pages,
GitHub, and other connector families), normalizes each collected artifact
into a uniform record, and drives ingestion through a concurrent,
priority-scheduled, resource-aware task engine with dependencies,
retries, interconnection, and automatic shutdown.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "override storage.dir")
	rootCmd.PersistentFlags().IntVar(&minWorkers, "worker-min", 0, "override worker.min (0 = use config)")
	rootCmd.PersistentFlags().IntVar(&maxWorkers, "worker-max", 0, "override worker.max (0 = use config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "start a metrics server at this address")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(taskCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// setupLogger creates a structured logger, matching the level the
// --verbose flag selects.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// loadConfig loads and validates the configuration, applying persistent
// CLI flag overrides before validation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyCLIOverrides layers persistent flag values onto cfg. Zero-value
// flags mean "use config/default" — they are never applied.
func applyCLIOverrides(cfg *config.Config) {
	if storageDir != "" {
		cfg.Storage.Dir = storageDir
	}
	if minWorkers > 0 {
		cfg.Worker.Min = minWorkers
	}
	if maxWorkers > 0 {
		cfg.Worker.Max = maxWorkers
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
}

// userError wraps an error that should exit 1 rather than 2, per
// spec.md §6's exit-code table.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func newUserError(format string, args ...any) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ue *userError
	if ok := asUserError(err, &ue); ok {
		return exitUserError
	}
	return exitInternal
}

func asUserError(err error, target **userError) bool {
	for err != nil {
		if ue, ok := err.(*userError); ok {
			*target = ue
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// versionCmd prints version information.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wiseflow %s\n", config.Version)
		},
	}
}

// configCmd shows the currently resolved configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return newUserError("%w", err)
			}
			fmt.Printf("Worker:\n")
			fmt.Printf("  Min/Max:          %d/%d\n", cfg.Worker.Min, cfg.Worker.Max)
			fmt.Printf("  Adjust Interval:  %s\n", cfg.Worker.AdjustInterval)
			fmt.Printf("  History Limit:    %d\n", cfg.Worker.HistoryLimit)
			fmt.Printf("\nRate Limit:\n")
			fmt.Printf("  Default:          %d/min, cooldown %s\n", cfg.RateLimit.DefaultPerMinute, cfg.RateLimit.DefaultCooldown)
			fmt.Printf("  Per-domain:       %d overrides\n", len(cfg.RateLimit.PerDomain))
			fmt.Printf("\nFetch:\n")
			fmt.Printf("  Timeout:          %s\n", cfg.Fetch.Timeout)
			fmt.Printf("  Max Retries:      %d\n", cfg.Fetch.MaxRetries)
			fmt.Printf("\nCache:\n")
			fmt.Printf("  Enabled:          %v\n", cfg.Cache.Enabled)
			fmt.Printf("  TTL:              %s\n", cfg.Cache.TTL)
			fmt.Printf("\nConnectors:\n")
			for name, c := range cfg.Connectors {
				fmt.Printf("  %-10s enabled=%v concurrency=%d\n", name, c.Enabled, c.Concurrency)
			}
			fmt.Printf("\nAuto-Shutdown:\n")
			fmt.Printf("  Enabled:          %v\n", cfg.AutoShutdown.Enabled)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:             %s\n", cfg.Storage.Type)
			fmt.Printf("  Dir:              %s\n", cfg.Storage.Dir)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:          %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Addr:             %s\n", cfg.Metrics.Addr)
			return nil
		},
	}
}

// parseKeyValues turns "k=v,k2=v2" CLI args into a params map, the shape
// every mining task's SearchParams takes.
func parseKeyValues(pairs []string) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

// stopEngine stops eng, logging (not failing) on error — by the time a
// command is tearing down, its real result has already been printed.
func stopEngine(eng *wiseflow.Engine, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		logger.Warn("engine shutdown error", "error", err)
	}
}

func durationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
