// Package history persists ranking runs: one immutable audit row per guide per
// run, plus the live ranking score on the guide profile.
package history

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/astrokiran/guiderank/internal/ranking"
)

var (
	// ErrPersistenceFailure is returned when the store rejects a write.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrRunNotFound is returned when no history rows exist for a run ID.
	ErrRunNotFound = errors.New("run not found")
)

// Record is one row of ranking history.
type Record struct {
	RunID              string                  `json:"run_id"`
	GuideID            int64                   `json:"guide_id"`
	RankingScore       float64                 `json:"ranking_score"`
	ActivityMultiplier float64                 `json:"activity_multiplier"`
	Components         ranking.ComponentScores `json:"components"`

	TotalConsultations int64   `json:"total_consultations"`
	UniqueCustomers    int64   `json:"unique_customers"`
	TotalBookings      int64   `json:"total_bookings"`
	AvgOrderValue      float64 `json:"avg_order_value"`
	MedianOrderValue   float64 `json:"median_order_value"`
	DaysActive         int64   `json:"days_active"`
	AvgRating          float64 `json:"avg_rating"`
	ResponseSeconds    *int64  `json:"response_seconds,omitempty"`
	ReviewCount        int64   `json:"review_count"`
	CancelledCount     int64   `json:"cancelled_count"`
	MonthsOnPlatform   *int64  `json:"months_on_platform,omitempty"`
	RepeatCustomers    int64   `json:"repeat_customers"`
	TotalCustomers     int64   `json:"total_customers"`

	ComputedAt time.Time `json:"computed_at"`
}

// CurrentScore is the live ranking value for one guide.
type CurrentScore struct {
	GuideID int64
	Score   float64
}

// NewRecord builds the history row for one scored guide, rounding values to
// the precision stored in the table.
func NewRecord(runID string, r ranking.RankingResult, computedAt time.Time) Record {
	a := r.Aggregate
	c := r.Components
	return Record{
		RunID:              runID,
		GuideID:            r.GuideID,
		RankingScore:       ranking.Round(r.Score, 2),
		ActivityMultiplier: ranking.Round(r.ActivityMultiplier, 2),
		Components: ranking.ComponentScores{
			Repeat:      ranking.Round(c.Repeat, 3),
			AOV:         ranking.Round(c.AOV, 3),
			Volume:      ranking.Round(c.Volume, 3),
			Activity:    ranking.Round(c.Activity, 3),
			Rating:      ranking.Round(c.Rating, 3),
			Response:    ranking.Round(c.Response, 3),
			Consistency: ranking.Round(c.Consistency, 3),
			Reliability: ranking.Round(c.Reliability, 3),
			Experience:  ranking.Round(c.Experience, 3),
		},
		TotalConsultations: a.CompletedConsultations,
		UniqueCustomers:    a.UniqueCustomers,
		TotalBookings:      a.TotalBookings,
		AvgOrderValue:      ranking.Round(a.AvgOrderValue, 2),
		MedianOrderValue:   a.MedianOrderValue,
		DaysActive:         a.DaysActive30d,
		AvgRating:          a.AvgRating,
		ResponseSeconds:    truncate(a.AvgResponseSeconds),
		ReviewCount:        a.ReviewCount,
		CancelledCount:     a.CancelledCount,
		MonthsOnPlatform:   truncate(a.MonthsOnPlatform),
		RepeatCustomers:    a.RepeatCustomers,
		TotalCustomers:     a.TotalCustomers,
		ComputedAt:         computedAt.UTC(),
	}
}

// NewRecords builds history rows for a whole run.
func NewRecords(runID string, results []ranking.RankingResult, computedAt time.Time) []Record {
	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = NewRecord(runID, r, computedAt)
	}
	return records
}

// CurrentScores extracts the live scores from history rows.
func CurrentScores(records []Record) []CurrentScore {
	scores := make([]CurrentScore, len(records))
	for i, r := range records {
		scores[i] = CurrentScore{GuideID: r.GuideID, Score: r.RankingScore}
	}
	return scores
}

// truncate drops the fraction of v and clamps it to the INTEGER column range.
func truncate(v *float64) *int64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	f := math.Trunc(*v)
	switch {
	case f > math.MaxInt32:
		f = math.MaxInt32
	case f < math.MinInt32:
		f = math.MinInt32
	}
	n := int64(f)
	return &n
}

// Sink stores ranking history and current scores.
type Sink interface {
	// AppendHistory inserts the records. Rows whose (run_id, guide_id) already
	// exist are skipped, never overwritten. It returns the number inserted.
	AppendHistory(ctx context.Context, records []Record) (int, error)

	// SetCurrentScores overwrites the live score of each listed guide and
	// returns the number of guides updated.
	SetCurrentScores(ctx context.Context, scores []CurrentScore) (int, error)
}

// AtomicSink is implemented by sinks that can write history and current
// scores in one transaction.
type AtomicSink interface {
	Sink
	// PersistRun applies both writes or neither.
	PersistRun(ctx context.Context, records []Record, scores []CurrentScore) (inserted, updated int, err error)
}

// Reader loads stored history.
type Reader interface {
	// RunRecords returns the history rows of one run, or ErrRunNotFound.
	RunRecords(ctx context.Context, runID string) ([]Record, error)
}

// ReplayStore can both read history and update current scores.
type ReplayStore interface {
	Sink
	Reader
}

// ReplayCurrent re-applies the current scores recorded in a run's history.
// It recovers a run whose history was written but whose current-score update
// failed.
func ReplayCurrent(ctx context.Context, store ReplayStore, runID string) (int, error) {
	records, err := store.RunRecords(ctx, runID)
	if err != nil {
		return 0, err
	}
	return store.SetCurrentScores(ctx, CurrentScores(records))
}
