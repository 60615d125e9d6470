package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/astrokiran/guiderank/internal/config"
	"github.com/astrokiran/guiderank/internal/health"
	"github.com/astrokiran/guiderank/internal/jobs"
	"github.com/astrokiran/guiderank/internal/middleware"
	"github.com/astrokiran/guiderank/internal/runner"
	"github.com/astrokiran/guiderank/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

// runDaemon triggers runs on the configured schedule, starting with one
// immediate run, and serves the operational endpoints until ctx is done.
func runDaemon(ctx context.Context, cfg *config.Config, r *runner.Runner, d *deps, registry *prometheus.Registry, reporter jobs.Reporter, logger *slog.Logger) error {
	sched, err := schedule.New(schedule.Config{
		Schedule:   cfg.Schedule,
		Timeout:    cfg.RunTimeout,
		Locker:     d.locker(cfg),
		Logger:     logger,
		JobMetrics: reporter,
	}, r)
	if err != nil {
		return err
	}

	handlers := health.NewHandlers(health.HandlersConfig{
		Checkers: d.checkers(),
		LastRun:  lastRun(r),
		Logger:   logger,
	})
	server := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      newOpsHandler(registry, handlers, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting ops server", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if err := sched.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := sched.RunNow(ctx); err != nil && !errors.Is(err, runner.ErrRunInProgress) {
			logger.Error("initial ranking run failed", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down ranker...")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("ops server: %w", err)
		}
	}

	sched.Stop()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", "error", err)
	}

	logger.Info("ranker stopped")
	return runErr
}

// newOpsHandler serves /metrics, /health and /ready. Probe and scrape
// requests are logged at debug.
func newOpsHandler(registry *prometheus.Registry, handlers *health.Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/health", handlers.Health)
	mux.HandleFunc("/ready", handlers.Ready)

	return middleware.RequestID(middleware.Logging(logger, "/metrics", "/health", "/ready")(mux))
}

// lastRun reports the completion time of the runner's last successful run.
func lastRun(r *runner.Runner) health.LastRunFunc {
	return func() (time.Time, bool) {
		s := r.LastSummary()
		if s == nil {
			return time.Time{}, false
		}
		return s.RunAt.Add(s.Duration), true
	}
}
