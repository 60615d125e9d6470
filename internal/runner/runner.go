// Package runner orchestrates one ranking run: fetch aggregates, score every
// guide, sort, and persist history and current scores.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/astrokiran/guiderank/internal/history"
	"github.com/astrokiran/guiderank/internal/jobs"
	"github.com/astrokiran/guiderank/internal/ranking"
	"github.com/astrokiran/guiderank/internal/signals"
	"github.com/astrokiran/guiderank/internal/tracing"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateScoring    State = "scoring"
	StateSorting    State = "sorting"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// DefaultWorkers is the default scoring parallelism.
const DefaultWorkers = 4

// minChunk is the smallest slice of aggregates handed to one scoring worker.
const minChunk = 64

// Config configures a Runner.
type Config struct {
	// Logger for run activity.
	Logger *slog.Logger
	// Metrics for run tracking. Optional.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics jobs.Reporter

	// Weights used by the combiner. Nil means ranking.DefaultWeights.
	Weights *ranking.Weights
	// RepeatMode selects the repeat-rate definition.
	RepeatMode ranking.RepeatMode
	// ExcludedGuideIDs are passed to the source on every fetch.
	ExcludedGuideIDs []int64
	// Workers bounds scoring parallelism.
	Workers int
	// AtomicPersist writes history and current scores in one transaction
	// when the sink supports it.
	AtomicPersist bool

	// Now returns the run timestamp. Defaults to time.Now.
	Now func() time.Time
	// NewRunID generates run identifiers. Defaults to a random UUID.
	NewRunID func() string
}

// Summary describes a completed run.
type Summary struct {
	RunID           string
	Source          string
	RunAt           time.Time
	Guides          int
	HistoryInserted int
	GuidesUpdated   int
	TopScore        float64
	Duration        time.Duration
	// Results are sorted by score descending, then guide ID ascending.
	Results []ranking.RankingResult
}

// Runner executes ranking runs. It performs no locking between runs; callers
// that trigger runs concurrently must serialize them.
type Runner struct {
	config Config
	source signals.Source
	sink   history.Sink

	mu    sync.Mutex
	state State
	last  *Summary
}

// New creates a Runner. sink may be nil for runs that never persist.
func New(config Config, source signals.Source, sink history.Sink) *Runner {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.RepeatMode == "" {
		config.RepeatMode = ranking.RepeatModeFunnel
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewRunID == nil {
		config.NewRunID = uuid.NewString
	}
	return &Runner{
		config: config,
		source: source,
		sink:   sink,
		state:  StateIdle,
	}
}

// State returns the state of the current or most recent run.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastSummary returns the summary of the last successful run, or nil.
func (r *Runner) LastSummary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes a full run and persists the results.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	return r.execute(ctx, true)
}

// Compute fetches, scores and sorts without writing anything.
func (r *Runner) Compute(ctx context.Context) (*Summary, error) {
	return r.execute(ctx, false)
}

func (r *Runner) execute(ctx context.Context, persist bool) (summary *Summary, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.run")
	defer func() { endSpan(err) }()

	start := time.Now()
	runAt := r.config.Now().UTC()
	runID := r.config.NewRunID()
	logger := r.config.Logger.With("run_id", runID)

	defer func() {
		if persist {
			r.record(err, time.Since(start), summary)
		}
	}()

	logger.Info("ranking run started",
		"source", r.source.Name(),
		"repeat_mode", r.config.RepeatMode,
		"persist", persist)
	if r.config.RepeatMode == ranking.RepeatModeLegacy {
		logger.Warn("legacy repeat definition in use; repeat scores approximate the spend funnel from booking counts")
	}

	r.setState(StateFetching)
	aggs, err := r.fetch(ctx, runAt)
	if err != nil {
		logger.Error("ranking run failed fetching aggregates", "error", err)
		return nil, r.fail(StateFetching, OutcomeNothingWritten, runID, err)
	}
	logger.Info("aggregates fetched",
		"guides", len(aggs),
		"duration_ms", time.Since(start).Milliseconds())

	r.setState(StateScoring)
	results, err := r.score(ctx, aggs)
	if err != nil {
		return nil, r.fail(StateScoring, OutcomeNothingWritten, runID, err)
	}

	r.setState(StateSorting)
	ranking.Sort(results)

	summary = &Summary{
		RunID:   runID,
		Source:  r.source.Name(),
		RunAt:   runAt,
		Guides:  len(results),
		Results: results,
	}
	if len(results) > 0 {
		summary.TopScore = results[0].Score
	}

	if persist {
		r.setState(StatePersisting)
		if err := r.persist(ctx, logger, summary); err != nil {
			summary = nil
			return nil, err
		}
	}

	summary.Duration = time.Since(start)
	r.mu.Lock()
	r.state = StateDone
	r.last = summary
	r.mu.Unlock()

	logger.Info("ranking run completed",
		"guides_scored", summary.Guides,
		"history_inserted", summary.HistoryInserted,
		"guides_updated", summary.GuidesUpdated,
		"top_score", summary.TopScore,
		"duration_seconds", summary.Duration.Seconds())
	return summary, nil
}

func (r *Runner) fetch(ctx context.Context, runAt time.Time) (aggs []ranking.GuideAggregate, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.fetch")
	defer func() { endSpan(err) }()

	return r.source.FetchAggregates(ctx, signals.Request{
		RunTime:          runAt,
		ExcludedGuideIDs: r.config.ExcludedGuideIDs,
	})
}

// score computes results in parallel. Each worker writes a disjoint range.
func (r *Runner) score(ctx context.Context, aggs []ranking.GuideAggregate) ([]ranking.RankingResult, error) {
	results := make([]ranking.RankingResult, len(aggs))
	opts := ranking.Options{Weights: r.config.Weights, RepeatMode: r.config.RepeatMode}

	chunk := max(minChunk, (len(aggs)+r.config.Workers-1)/r.config.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for lo := 0; lo < len(aggs); lo += chunk {
		hi := min(lo+chunk, len(aggs))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				results[i] = ranking.Score(aggs[i], opts)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// persist runs to completion once started: a scored run is written even if the
// run context is cancelled meanwhile.
func (r *Runner) persist(ctx context.Context, logger *slog.Logger, summary *Summary) (err error) {
	ctx, endSpan := tracing.StartSpan(context.WithoutCancel(ctx), "ranking.persist")
	defer func() { endSpan(err) }()

	if r.sink == nil {
		return r.fail(StatePersisting, OutcomeNothingWritten, summary.RunID, errors.New("no persistence sink configured"))
	}

	records := history.NewRecords(summary.RunID, summary.Results, summary.RunAt)
	scores := history.CurrentScores(records)

	if atomic, ok := r.sink.(history.AtomicSink); ok && r.config.AtomicPersist {
		inserted, updated, err := atomic.PersistRun(ctx, records, scores)
		if err != nil {
			logger.Error("ranking persist failed", "error", err, "outcome", OutcomeNothingWritten)
			return r.fail(StatePersisting, OutcomeNothingWritten, summary.RunID, err)
		}
		summary.HistoryInserted, summary.GuidesUpdated = inserted, updated
		return nil
	}

	inserted, err := r.sink.AppendHistory(ctx, records)
	if err != nil {
		logger.Error("ranking history write failed", "error", err, "outcome", OutcomeNothingWritten)
		return r.fail(StatePersisting, OutcomeNothingWritten, summary.RunID, err)
	}
	summary.HistoryInserted = inserted

	updated, err := r.sink.SetCurrentScores(ctx, scores)
	if err != nil {
		logger.Error("current score update failed after history was written",
			"error", err,
			"outcome", OutcomeHistoryOnly,
			"history_inserted", inserted)
		return r.fail(StatePersisting, OutcomeHistoryOnly, summary.RunID, err)
	}
	summary.GuidesUpdated = updated
	return nil
}

func (r *Runner) fail(stage State, outcome Outcome, runID string, err error) error {
	r.setState(StateFailed)
	if stage == StatePersisting && r.config.Metrics != nil {
		r.config.Metrics.IncPersistFailures(outcome)
	}
	if r.config.JobMetrics != nil {
		r.config.JobMetrics.IncJobErrors(jobs.JobTypeGuideRanking, string(stage)+"_error")
	}
	return &RunError{Stage: stage, Outcome: outcome, RunID: runID, Err: err}
}

func (r *Runner) record(err error, elapsed time.Duration, summary *Summary) {
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
	}
	seconds := elapsed.Seconds()

	if r.config.Metrics != nil {
		r.config.Metrics.IncRuns(status)
		r.config.Metrics.ObserveRunDuration(seconds)
		if summary != nil {
			r.config.Metrics.SetLastRun(float64(summary.RunAt.Unix()), float64(summary.GuidesUpdated))
		}
	}
	if r.config.JobMetrics != nil {
		r.config.JobMetrics.IncJobsTotal(jobs.JobTypeGuideRanking, status)
		r.config.JobMetrics.ObserveJobDuration(jobs.JobTypeGuideRanking, seconds)
	}
}
