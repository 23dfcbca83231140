// Package observability exposes the engine's Prometheus collectors over
// HTTP, alongside a liveness endpoint.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics (Prometheus exposition format) and /health
// (plain liveness check) over HTTP.
type Server struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	srv      *http.Server
}

// NewServer builds a Server. collectors are registered alongside the
// standard process/Go runtime collectors; registration failures are
// logged, not fatal, since a duplicate collector should never take down
// the whole engine.
func NewServer(logger *slog.Logger, addr, path string, collectorsToRegister ...prometheus.Collector) *Server {
	logger = logger.With("component", "observability")
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	for _, c := range collectorsToRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn("collector registration failed", "error", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: slogErrorLogger{logger}}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	return &Server{
		logger:   logger,
		registry: reg,
		srv:      &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in its own goroutine. Listen errors
// after a graceful Shutdown are expected and not logged as failures.
func (s *Server) Start() {
	s.logger.Info("metrics server starting", "addr", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// slogErrorLogger adapts *slog.Logger to promhttp.HandlerOpts' ErrorLog
// (a one-method promhttp.Logger interface).
type slogErrorLogger struct{ logger *slog.Logger }

func (l slogErrorLogger) Println(v ...any) {
	l.logger.Error("metrics handler error", "detail", fmt.Sprint(v...))
}
