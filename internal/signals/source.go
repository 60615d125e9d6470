// Package signals collects the per-guide aggregates that feed the ranking
// engine from relational, graph, or in-memory stores.
package signals

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/astrokiran/guiderank/internal/ranking"
)

var (
	// ErrSourceUnavailable is returned when the store cannot be reached or
	// returns data that cannot be turned into a complete aggregate set.
	ErrSourceUnavailable = errors.New("signal source unavailable")

	// ErrMalformedAggregateSet is returned alongside ErrSourceUnavailable when
	// the set itself is unusable (missing or duplicate guide identifiers).
	ErrMalformedAggregateSet = errors.New("malformed aggregate set")
)

// ActivityWindow is the trailing window for days_active_30d.
const ActivityWindow = 30 * 24 * time.Hour

// secondsPerMonth converts account age to months using 30-day months.
const secondsPerMonth = 30 * 24 * 3600.0

// Consultation states counted by the aggregates.
const (
	StateCompleted     = "completed"
	StateCancelled     = "cancelled"
	StateGuideRejected = "guide_rejected"
)

// Request scopes one fetch.
type Request struct {
	// RunTime anchors the activity window and account age.
	RunTime time.Time
	// ExcludedGuideIDs are skipped in addition to guides flagged as test accounts.
	ExcludedGuideIDs []int64
}

// Source produces one aggregate per active, non-excluded guide.
// A Source either returns the complete set or an error; it never returns a
// partial set.
type Source interface {
	FetchAggregates(ctx context.Context, req Request) ([]ranking.GuideAggregate, error)
	// Name identifies the source in logs and metrics.
	Name() string
}

// excluded reports whether id is in the request's exclusion list.
func (r Request) excluded(id int64) bool {
	return slices.Contains(r.ExcludedGuideIDs, id)
}

// excludedIDs returns a non-nil exclusion list suitable for query parameters.
func (r Request) excludedIDs() []int64 {
	if r.ExcludedGuideIDs == nil {
		return []int64{}
	}
	return r.ExcludedGuideIDs
}

// runTime returns the request run time, defaulting to now.
func (r Request) runTime() time.Time {
	if r.RunTime.IsZero() {
		return time.Now().UTC()
	}
	return r.RunTime.UTC()
}

// CheckAggregates rejects sets with non-positive or duplicate guide IDs.
// Out-of-range values inside an aggregate are left alone; scoring clamps them.
func CheckAggregates(aggs []ranking.GuideAggregate) error {
	seen := make(map[int64]struct{}, len(aggs))
	for _, a := range aggs {
		if a.GuideID <= 0 {
			return fmt.Errorf("%w: %w: invalid guide id %d", ErrSourceUnavailable, ErrMalformedAggregateSet, a.GuideID)
		}
		if _, dup := seen[a.GuideID]; dup {
			return fmt.Errorf("%w: %w: duplicate guide id %d", ErrSourceUnavailable, ErrMalformedAggregateSet, a.GuideID)
		}
		seen[a.GuideID] = struct{}{}
	}
	return nil
}

// monthsFromSeconds converts an optional account age to months.
func monthsFromSeconds(seconds *float64) *float64 {
	if seconds == nil {
		return nil
	}
	m := *seconds / secondsPerMonth
	if m < 0 {
		m = 0
	}
	return &m
}

// wrapUnavailable marks err as a source failure for op.
func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, op, err)
}
