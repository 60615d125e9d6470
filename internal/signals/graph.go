package signals

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/astrokiran/guiderank/internal/ranking"
	"github.com/astrokiran/guiderank/internal/tracing"
)

// GraphQuerier runs a read-only Cypher query and returns each record as a map.
type GraphQuerier interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Neo4jQuerier runs queries in read sessions against a Neo4j driver.
type Neo4jQuerier struct {
	Driver   neo4j.DriverWithContext
	Database string
}

// Query implements GraphQuerier.
func (q *Neo4jQuerier) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := q.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: q.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.AsMap())
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]map[string]any)
	return rows, nil
}

// GraphSource computes aggregates with a Cypher query against the graph store.
// Repeat-funnel counts are not modelled in the graph and are reported as zero.
type GraphSource struct {
	querier GraphQuerier
	logger  *slog.Logger
}

// NewGraphSource creates a new GraphSource.
func NewGraphSource(querier GraphQuerier, logger *slog.Logger) *GraphSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphSource{querier: querier, logger: logger}
}

// Name returns "neo4j".
func (s *GraphSource) Name() string { return "neo4j" }

// FetchAggregates implements Source.
func (s *GraphSource) FetchAggregates(ctx context.Context, req Request) (aggs []ranking.GuideAggregate, err error) {
	ctx, endSpan := tracing.StartGraphSpan(ctx, "Guide", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	start := time.Now()
	rows, err := s.querier.Query(ctx, graphAggregateQuery, map[string]any{
		"excluded": req.excludedIDs(),
		"run_time": req.runTime().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("graph aggregate query failed", "error", err)
		return nil, wrapUnavailable("query graph aggregates", err)
	}

	aggs = make([]ranking.GuideAggregate, 0, len(rows))
	for i, row := range rows {
		a, err := aggregateFromRecord(row)
		if err != nil {
			return nil, wrapUnavailable(fmt.Sprintf("decode graph record %d", i), err)
		}
		aggs = append(aggs, a)
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

func aggregateFromRecord(row map[string]any) (ranking.GuideAggregate, error) {
	id, ok := asInt64(row["id"])
	if !ok {
		return ranking.GuideAggregate{}, fmt.Errorf("%w: missing guide id", ErrMalformedAggregateSet)
	}
	name, _ := row["name"].(string)

	a := ranking.GuideAggregate{
		GuideID:                id,
		Name:                   name,
		CompletedConsultations: int64Field(row, "completed"),
		ReviewCount:            int64Field(row, "review_count"),
		AvgRating:              float64Field(row, "avg_rating"),
		UniqueCustomers:        int64Field(row, "unique_customers"),
		TotalBookings:          int64Field(row, "total_bookings"),
		AvgOrderValue:          float64Field(row, "avg_order_value"),
		MedianOrderValue:       float64Field(row, "median_order_value"),
		TotalConsidered:        int64Field(row, "total_cons"),
		CancelledCount:         int64Field(row, "cancelled"),
		DaysActive30d:          int64Field(row, "days_active"),
	}
	if v, ok := asFloat64(row["avg_response_seconds"]); ok {
		a.AvgResponseSeconds = ranking.Float64(v)
	}
	if v, ok := asFloat64(row["account_age_seconds"]); ok {
		a.MonthsOnPlatform = monthsFromSeconds(&v)
	}
	return a, nil
}

func int64Field(row map[string]any, key string) int64 {
	v, _ := asInt64(row[key])
	return v
}

func float64Field(row map[string]any, key string) float64 {
	v, _ := asFloat64(row[key])
	return v
}

// asInt64 converts the numeric types the driver returns. Floats are truncated.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// asFloat64 converts the numeric types the driver returns. nil reports false.
func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
