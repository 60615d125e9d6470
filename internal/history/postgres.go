package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/astrokiran/guiderank/internal/tracing"
)

// SchemaSQL creates the history table if it does not exist.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS guide.ranking_history (
    id                  BIGSERIAL PRIMARY KEY,
    run_id              TEXT NOT NULL,
    guide_id            BIGINT NOT NULL,
    ranking_score       NUMERIC(5,2) NOT NULL,
    activity_multiplier NUMERIC(4,2) NOT NULL,
    repeat_score        NUMERIC(5,3) NOT NULL,
    aov_score           NUMERIC(5,3) NOT NULL,
    volume_score        NUMERIC(5,3) NOT NULL,
    activity_score      NUMERIC(5,3) NOT NULL,
    rating_score        NUMERIC(5,3) NOT NULL,
    response_score      NUMERIC(5,3) NOT NULL,
    consistency_score   NUMERIC(5,3) NOT NULL,
    reliability_score   NUMERIC(5,3) NOT NULL,
    experience_score    NUMERIC(5,3) NOT NULL,
    total_consultations BIGINT NOT NULL DEFAULT 0,
    unique_customers    BIGINT NOT NULL DEFAULT 0,
    total_bookings      BIGINT NOT NULL DEFAULT 0,
    avg_order_value     NUMERIC(12,2) NOT NULL DEFAULT 0,
    median_order_value  NUMERIC(12,2) NOT NULL DEFAULT 0,
    days_active         INTEGER NOT NULL DEFAULT 0,
    avg_rating          NUMERIC(4,2) NOT NULL DEFAULT 0,
    response_seconds    INTEGER,
    review_count        BIGINT NOT NULL DEFAULT 0,
    cancelled_count     BIGINT NOT NULL DEFAULT 0,
    months_on_platform  INTEGER,
    repeat_customers    BIGINT NOT NULL DEFAULT 0,
    total_customers     BIGINT NOT NULL DEFAULT 0,
    computed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (run_id, guide_id)
);
CREATE INDEX IF NOT EXISTS idx_ranking_history_guide_computed
    ON guide.ranking_history (guide_id, computed_at DESC);
`

var historyColumns = []string{
	"run_id", "guide_id", "ranking_score", "activity_multiplier",
	"repeat_score", "aov_score", "volume_score", "activity_score",
	"rating_score", "response_score", "consistency_score",
	"reliability_score", "experience_score",
	"total_consultations", "unique_customers", "total_bookings",
	"avg_order_value", "median_order_value", "days_active",
	"avg_rating", "response_seconds", "review_count",
	"cancelled_count", "months_on_platform", "repeat_customers",
	"total_customers", "computed_at",
}

// DefaultBatchSize keeps a single INSERT well under the Postgres parameter limit.
const DefaultBatchSize = 500

const updateCurrentSQL = `
UPDATE guide.guide_profile AS gp
SET ranking_score = v.score,
    updated_at = NOW()
FROM unnest($1::bigint[], $2::numeric[]) AS v(guide_id, score)
WHERE gp.id = v.guide_id`

const selectRunSQL = `
SELECT guide_id, ranking_score, activity_multiplier,
       repeat_score, aov_score, volume_score, activity_score,
       rating_score, response_score, consistency_score,
       reliability_score, experience_score,
       total_consultations, unique_customers, total_bookings,
       avg_order_value, median_order_value, days_active,
       avg_rating, response_seconds, review_count,
       cancelled_count, months_on_platform, repeat_customers,
       total_customers, computed_at
FROM guide.ranking_history
WHERE run_id = $1
ORDER BY ranking_score DESC, guide_id ASC`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink writes history and current scores to the primary database.
type PostgresSink struct {
	db        *sql.DB
	logger    *slog.Logger
	batchSize int
}

// NewPostgresSink creates a new PostgresSink.
func NewPostgresSink(db *sql.DB, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		db:        db,
		logger:    logger,
		batchSize: DefaultBatchSize,
	}
}

// EnsureSchema creates the history table and index if missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranking_history", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	if _, err = s.db.ExecContext(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("%w: ensure schema: %w", ErrPersistenceFailure, err)
	}
	return nil
}

// AppendHistory implements Sink. All batches are inserted in one transaction.
func (s *PostgresSink) AppendHistory(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("%w: begin history transaction: %w", ErrPersistenceFailure, err)
	}
	defer s.rollback(tx)

	inserted, err := s.insertHistory(ctx, tx, records)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit history: %w", ErrPersistenceFailure, err)
	}
	return inserted, nil
}

// SetCurrentScores implements Sink with a single UPDATE statement.
func (s *PostgresSink) SetCurrentScores(ctx context.Context, scores []CurrentScore) (int, error) {
	return s.updateCurrent(ctx, s.db, scores)
}

// PersistRun implements AtomicSink.
func (s *PostgresSink) PersistRun(ctx context.Context, records []Record, scores []CurrentScore) (inserted, updated int, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin run transaction: %w", ErrPersistenceFailure, err)
	}
	defer s.rollback(tx)

	if inserted, err = s.insertHistory(ctx, tx, records); err != nil {
		return 0, 0, err
	}
	if updated, err = s.updateCurrent(ctx, tx, scores); err != nil {
		return 0, 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit run: %w", ErrPersistenceFailure, err)
	}
	return inserted, updated, nil
}

// RunRecords implements Reader.
func (s *PostgresSink) RunRecords(ctx context.Context, runID string) (records []Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranking_history", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, selectRunSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: load run %s: %w", ErrPersistenceFailure, runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		r := Record{RunID: runID}
		var responseSecs, months sql.NullInt64
		c := &r.Components
		if err := rows.Scan(
			&r.GuideID, &r.RankingScore, &r.ActivityMultiplier,
			&c.Repeat, &c.AOV, &c.Volume, &c.Activity,
			&c.Rating, &c.Response, &c.Consistency,
			&c.Reliability, &c.Experience,
			&r.TotalConsultations, &r.UniqueCustomers, &r.TotalBookings,
			&r.AvgOrderValue, &r.MedianOrderValue, &r.DaysActive,
			&r.AvgRating, &responseSecs, &r.ReviewCount,
			&r.CancelledCount, &months, &r.RepeatCustomers,
			&r.TotalCustomers, &r.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan history row: %w", ErrPersistenceFailure, err)
		}
		if responseSecs.Valid {
			r.ResponseSeconds = &responseSecs.Int64
		}
		if months.Valid {
			r.MonthsOnPlatform = &months.Int64
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate history rows: %w", ErrPersistenceFailure, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return records, nil
}

func (s *PostgresSink) insertHistory(ctx context.Context, ex execer, records []Record) (inserted int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ranking_history", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		query, args := buildInsert(records[start:end])
		res, err := ex.ExecContext(ctx, query, args...)
		if err != nil {
			s.logger.Error("history insert failed",
				"error", err,
				"batch_start", start,
				"batch_size", end-start)
			return 0, fmt.Errorf("%w: insert history: %w", ErrPersistenceFailure, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%w: history rows affected: %w", ErrPersistenceFailure, err)
		}
		inserted += int(n)
	}
	if skipped := len(records) - inserted; skipped > 0 {
		s.logger.Info("history rows already present, skipped",
			"run_id", records[0].RunID,
			"skipped", skipped)
	}
	return inserted, nil
}

func (s *PostgresSink) updateCurrent(ctx context.Context, ex execer, scores []CurrentScore) (updated int, err error) {
	if len(scores) == 0 {
		return 0, nil
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "guide_profile", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	ids := make([]int64, len(scores))
	values := make([]float64, len(scores))
	for i, sc := range scores {
		ids[i] = sc.GuideID
		values[i] = sc.Score
	}

	res, err := ex.ExecContext(ctx, updateCurrentSQL, pq.Array(ids), pq.Array(values))
	if err != nil {
		s.logger.Error("current score update failed", "error", err, "guides", len(scores))
		return 0, fmt.Errorf("%w: update current scores: %w", ErrPersistenceFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: current score rows affected: %w", ErrPersistenceFailure, err)
	}
	return int(n), nil
}

func (s *PostgresSink) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		s.logger.Warn("failed to rollback transaction", "error", err)
	}
}

// buildInsert renders a multi-row INSERT that skips existing (run_id, guide_id) rows.
func buildInsert(records []Record) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO guide.ranking_history (")
	b.WriteString(strings.Join(historyColumns, ", "))
	b.WriteString(") VALUES ")

	n := len(historyColumns)
	args := make([]any, 0, len(records)*n)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < n; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*n+j+1)
		}
		b.WriteByte(')')
		args = append(args, recordArgs(r)...)
	}
	b.WriteString(" ON CONFLICT (run_id, guide_id) DO NOTHING")
	return b.String(), args
}

func recordArgs(r Record) []any {
	c := r.Components
	return []any{
		r.RunID, r.GuideID, r.RankingScore, r.ActivityMultiplier,
		c.Repeat, c.AOV, c.Volume, c.Activity,
		c.Rating, c.Response, c.Consistency,
		c.Reliability, c.Experience,
		r.TotalConsultations, r.UniqueCustomers, r.TotalBookings,
		r.AvgOrderValue, r.MedianOrderValue, r.DaysActive,
		r.AvgRating, nullInt(r.ResponseSeconds), r.ReviewCount,
		r.CancelledCount, nullInt(r.MonthsOnPlatform), r.RepeatCustomers,
		r.TotalCustomers, r.ComputedAt,
	}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
