// Package main is the entry point for the guide ranker.
//
// Without flags it computes rankings and prints them. --update persists the
// run, --replay re-applies a stored run, and --daemon runs on a schedule while
// serving /metrics, /health and /ready.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astrokiran/guiderank/internal/config"
	"github.com/astrokiran/guiderank/internal/history"
	"github.com/astrokiran/guiderank/internal/jobs"
	"github.com/astrokiran/guiderank/internal/middleware"
	"github.com/astrokiran/guiderank/internal/ranking"
	"github.com/astrokiran/guiderank/internal/report"
	"github.com/astrokiran/guiderank/internal/runner"
	"github.com/astrokiran/guiderank/internal/schedule"
	"github.com/astrokiran/guiderank/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// errUsage marks flag combinations that cannot run together.
var errUsage = errors.New("invalid flags")

type options struct {
	configPath   string
	source       string
	update       bool
	sql          bool
	json         bool
	replay       string
	daemon       bool
	ensureSchema bool
}

// writes reports whether the selected mode needs the primary database.
func (o options) writes() bool {
	return o.update || o.replay != "" || o.daemon || o.ensureSchema
}

// schemaOnly reports whether --ensure-schema was given without any run or
// report flag, in which case nothing follows the schema step.
func (o options) schemaOnly() bool {
	return o.ensureSchema && !o.update && !o.daemon && o.replay == "" && !o.sql && !o.json
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ranker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Guide Ranking Engine")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Usage: ranker [options]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", os.Getenv("RANKER_CONFIG"), "path to a YAML config file")
	fs.StringVar(&opts.source, "source", "", "signal source override: postgres, neo4j or hybrid")
	fs.BoolVar(&opts.update, "update", false, "persist the run: append history and update live scores")
	fs.BoolVar(&opts.sql, "sql", false, "print the equivalent SQL UPDATE statement instead of the table")
	fs.BoolVar(&opts.json, "json", false, "print results as JSON instead of the table")
	fs.StringVar(&opts.replay, "replay", "", "re-apply live scores from the stored history of a run id")
	fs.BoolVar(&opts.daemon, "daemon", false, "run on the configured schedule and serve metrics and health")
	fs.BoolVar(&opts.ensureSchema, "ensure-schema", false, "create the ranking history table if missing")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	if opts.sql && opts.json {
		return opts, fmt.Errorf("%w: --sql and --json are mutually exclusive", errUsage)
	}
	modes := 0
	for _, set := range []bool{opts.update, opts.replay != "", opts.daemon} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return opts, fmt.Errorf("%w: choose one of --update, --replay or --daemon", errUsage)
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, errs := loadConfig(opts)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(stderr, "config: %v\n", err)
		}
		return exitUsage
	}

	logger := middleware.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "guiderank",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	weights, err := ranking.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		logger.Error("invalid calibration file", "path", cfg.CalibrationFile, "error", err)
		return exitUsage
	}
	mode, err := ranking.ParseRepeatMode(cfg.RepeatMode)
	if err != nil {
		logger.Error("invalid repeat mode", "error", err)
		return exitUsage
	}

	deps, err := openDeps(ctx, cfg, opts.writes(), logger)
	if err != nil {
		logger.Error("failed to connect to stores", "error", err)
		return exitFailure
	}
	defer deps.Close()

	source, err := buildSource(cfg, deps, logger)
	if err != nil {
		logger.Error("failed to build signal source", "error", err)
		return exitFailure
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runMetrics := runner.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	if err := runMetrics.Register(registry); err != nil {
		logger.Error("failed to register run metrics", "error", err)
		return exitFailure
	}
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		return exitFailure
	}

	var sink *history.PostgresSink
	if deps.primary != nil {
		sink = history.NewPostgresSink(deps.primary, logger)
	}

	rcfg := runner.Config{
		Logger:           logger,
		Metrics:          runMetrics,
		JobMetrics:       jobMetrics,
		Weights:          weights,
		RepeatMode:       mode,
		ExcludedGuideIDs: cfg.ExcludedGuideIDs,
		Workers:          cfg.Workers,
		AtomicPersist:    cfg.AtomicPersist,
	}
	var r *runner.Runner
	if sink != nil {
		r = runner.New(rcfg, source, sink)
	} else {
		r = runner.New(rcfg, source, nil)
	}

	if opts.ensureSchema {
		if err := ensureSchema(ctx, sink, jobMetrics, logger); err != nil {
			return exitFailure
		}
		if opts.schemaOnly() {
			return exitOK
		}
	}

	switch {
	case opts.replay != "":
		if err := replay(ctx, sink, opts.replay, jobMetrics, logger); err != nil {
			return exitFailure
		}
		return exitOK
	case opts.daemon:
		if err := runDaemon(ctx, cfg, r, deps, registry, jobMetrics, logger); err != nil {
			logger.Error("daemon stopped with error", "error", err)
			return exitFailure
		}
		return exitOK
	}

	var job schedule.Job
	if opts.update {
		sched, err := schedule.New(schedule.Config{
			Schedule:   cfg.Schedule,
			Timeout:    cfg.RunTimeout,
			Locker:     deps.locker(cfg),
			Logger:     logger,
			JobMetrics: jobMetrics,
		}, r)
		if err != nil {
			logger.Error("failed to create scheduler", "error", err)
			return exitFailure
		}
		job = jobFunc(sched.RunNow)
	} else {
		job = jobFunc(r.Compute)
	}

	if err := runOnce(ctx, job, opts, weights, stdout); err != nil {
		logger.Error("ranking run failed", "error", err)
		return exitFailure
	}
	return exitOK
}

// jobFunc adapts a function to schedule.Job.
type jobFunc func(ctx context.Context) (*runner.Summary, error)

func (f jobFunc) Run(ctx context.Context) (*runner.Summary, error) { return f(ctx) }

// loadConfig loads configuration. A --source flag takes precedence over the
// environment and the config file.
func loadConfig(opts options) (*config.Config, []error) {
	if opts.source != "" {
		if err := os.Setenv("RANKER_SOURCE", opts.source); err != nil {
			return nil, []error{err}
		}
	}
	return config.Load(opts.configPath)
}

// runOnce executes a single run and writes the selected report to stdout.
func runOnce(ctx context.Context, job schedule.Job, opts options, weights *ranking.Weights, stdout io.Writer) error {
	summary, err := job.Run(ctx)
	if err != nil {
		return err
	}

	switch {
	case opts.sql:
		return report.WriteSQL(stdout, summary.Results, weights)
	case opts.json:
		return report.WriteJSON(stdout, summary.Results)
	}
	if err := report.WriteTable(stdout, summary.Results); err != nil {
		return err
	}
	if opts.update {
		_, err = fmt.Fprintf(stdout, "\nRun %s: %d history rows written, %d live scores updated\n",
			summary.RunID, summary.HistoryInserted, summary.GuidesUpdated)
		return err
	}
	_, err = fmt.Fprintln(stdout, "\nRun with --update to persist rankings")
	return err
}

// schemaStore is the part of the Postgres sink used by --ensure-schema.
type schemaStore interface {
	EnsureSchema(ctx context.Context) error
}

func ensureSchema(ctx context.Context, store schemaStore, reporter jobs.Reporter, logger *slog.Logger) error {
	start := time.Now()
	err := store.EnsureSchema(ctx)
	jobs.Record(reporter, jobs.JobTypeSchemaMigrate, time.Since(start), err, "exec")
	if err != nil {
		logger.Error("failed to ensure ranking history schema", "error", err)
		return err
	}
	logger.Info("ranking history schema ready")
	return nil
}

func replay(ctx context.Context, store history.ReplayStore, runID string, reporter jobs.Reporter, logger *slog.Logger) error {
	start := time.Now()
	updated, err := history.ReplayCurrent(ctx, store, runID)
	errType := "persist"
	if errors.Is(err, history.ErrRunNotFound) {
		errType = "not_found"
	}
	jobs.Record(reporter, jobs.JobTypeHistoryReplay, time.Since(start), err, errType)
	if err != nil {
		logger.Error("history replay failed", "run_id", runID, "error", err)
		return err
	}
	logger.Info("live scores replayed from history", "run_id", runID, "guides_updated", updated)
	return nil
}
