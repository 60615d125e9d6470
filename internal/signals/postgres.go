package signals

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/astrokiran/guiderank/internal/ranking"
	"github.com/astrokiran/guiderank/internal/tracing"
)

// PostgresSource computes aggregates with a single query against the
// relational store. It should point at a read replica.
type PostgresSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSource creates a new PostgresSource.
func NewPostgresSource(db *sql.DB, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSource{
		db:     db,
		logger: logger,
	}
}

// Name returns "postgres".
func (s *PostgresSource) Name() string { return "postgres" }

// FetchAggregates runs the aggregate query and scans every row. Any query or
// scan error fails the whole fetch.
func (s *PostgresSource) FetchAggregates(ctx context.Context, req Request) (aggs []ranking.GuideAggregate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "guide_aggregates", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, aggregateQuery, req.runTime(), pq.Array(req.excludedIDs()))
	if err != nil {
		s.logger.Error("aggregate query failed", "error", err)
		return nil, wrapUnavailable("query guide aggregates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a             ranking.GuideAggregate
			responseSecs  sql.NullFloat64
			accountAgeSec sql.NullFloat64
		)
		if err := rows.Scan(
			&a.GuideID,
			&a.Name,
			&a.CompletedConsultations,
			&a.ReviewCount,
			&a.AvgRating,
			&a.UniqueCustomers,
			&a.TotalBookings,
			&a.RepeatCustomers,
			&a.TotalCustomers,
			&a.AvgOrderValue,
			&a.MedianOrderValue,
			&responseSecs,
			&a.TotalConsidered,
			&a.CancelledCount,
			&a.DaysActive30d,
			&accountAgeSec,
		); err != nil {
			return nil, wrapUnavailable("scan guide aggregate", err)
		}
		a.AvgResponseSeconds = nullFloat(responseSecs)
		a.MonthsOnPlatform = monthsFromSeconds(nullFloat(accountAgeSec))
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable("iterate guide aggregates", err)
	}
	if err := CheckAggregates(aggs); err != nil {
		return nil, err
	}

	s.logger.Debug("fetched guide aggregates",
		"source", s.Name(),
		"guides", len(aggs),
		"duration_ms", time.Since(start).Milliseconds())
	return aggs, nil
}

// relationalOverlay holds the signals the graph store does not carry reliably.
type relationalOverlay struct {
	RepeatCustomers  int64
	TotalCustomers   int64
	DaysActive30d    int64
	MonthsOnPlatform *float64
}

// fetchOverlay returns the relational overlay keyed by guide ID.
func (s *PostgresSource) fetchOverlay(ctx context.Context, req Request) (overlay map[int64]relationalOverlay, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "guide_overlay", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, overlayQuery, req.runTime(), pq.Array(req.excludedIDs()))
	if err != nil {
		return nil, wrapUnavailable("query relational overlay", err)
	}
	defer rows.Close()

	overlay = make(map[int64]relationalOverlay)
	for rows.Next() {
		var (
			id            int64
			o             relationalOverlay
			accountAgeSec sql.NullFloat64
		)
		if err := rows.Scan(&id, &o.RepeatCustomers, &o.TotalCustomers, &o.DaysActive30d, &accountAgeSec); err != nil {
			return nil, wrapUnavailable("scan relational overlay", err)
		}
		o.MonthsOnPlatform = monthsFromSeconds(nullFloat(accountAgeSec))
		overlay[id] = o
	}
	if err := rows.Err(); err != nil {
		return nil, wrapUnavailable("iterate relational overlay", err)
	}
	return overlay, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
