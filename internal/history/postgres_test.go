package history

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/astrokiran/guiderank/internal/ranking"
)

var (
	insertPattern = regexp.QuoteMeta("INSERT INTO guide.ranking_history")
	updatePattern = regexp.QuoteMeta("UPDATE guide.guide_profile")
	selectPattern = regexp.QuoteMeta("FROM guide.ranking_history")
)

func newMockSink(t *testing.T) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresSink(db, nil), mock
}

func testRecords(runID string, ids ...int64) []Record {
	results := make([]ranking.RankingResult, len(ids))
	for i, id := range ids {
		results[i] = scoredGuide(id, 15)
	}
	return NewRecords(runID, results, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
}

func TestBuildInsert(t *testing.T) {
	records := testRecords("run", 1, 2)
	query, args := buildInsert(records)

	if len(args) != 2*len(historyColumns) {
		t.Errorf("expected %d args, got %d", 2*len(historyColumns), len(args))
	}
	if !strings.HasSuffix(query, "ON CONFLICT (run_id, guide_id) DO NOTHING") {
		t.Errorf("expected conflict clause, got %q", query)
	}
	last := "$" + strconv.Itoa(2*len(historyColumns))
	if !strings.Contains(query, last+")") {
		t.Errorf("expected placeholder %s in query", last)
	}
	if args[0] != "run" || args[1] != int64(1) {
		t.Errorf("unexpected leading args: %v %v", args[0], args[1])
	}
}

func TestPostgresSink_AppendHistory(t *testing.T) {
	sink, mock := newMockSink(t)
	records := testRecords("run-1", 1, 2, 3)

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := sink.AppendHistory(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 inserted, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSink_AppendHistory_Batches(t *testing.T) {
	sink, mock := newMockSink(t)
	sink.batchSize = 2
	records := testRecords("run-1", 1, 2, 3, 4, 5)

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := sink.AppendHistory(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 inserted with one conflict skipped, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSink_AppendHistory_Failure(t *testing.T) {
	sink, mock := newMockSink(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err := sink.AppendHistory(context.Background(), testRecords("run", 1))
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Errorf("expected ErrPersistenceFailure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSink_SetCurrentScores(t *testing.T) {
	sink, mock := newMockSink(t)

	mock.ExpectExec(updatePattern).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := sink.SetCurrentScores(context.Background(), []CurrentScore{{GuideID: 1, Score: 7.5}, {GuideID: 2, Score: 3.25}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 updated, got %d", n)
	}

	if n, err := sink.SetCurrentScores(context.Background(), nil); err != nil || n != 0 {
		t.Errorf("expected empty update to be a no-op, got %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSink_PersistRun(t *testing.T) {
	t.Run("commits both writes", func(t *testing.T) {
		sink, mock := newMockSink(t)
		records := testRecords("run", 1, 2)

		mock.ExpectBegin()
		mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(updatePattern).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		inserted, updated, err := sink.PersistRun(context.Background(), records, CurrentScores(records))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inserted != 2 || updated != 2 {
			t.Errorf("expected 2/2, got %d/%d", inserted, updated)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("rolls back on update failure", func(t *testing.T) {
		sink, mock := newMockSink(t)
		records := testRecords("run", 1)

		mock.ExpectBegin()
		mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updatePattern).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		_, _, err := sink.PersistRun(context.Background(), records, CurrentScores(records))
		if !errors.Is(err, ErrPersistenceFailure) {
			t.Errorf("expected ErrPersistenceFailure, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}

func TestPostgresSink_RunRecords(t *testing.T) {
	sink, mock := newMockSink(t)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{
		"guide_id", "ranking_score", "activity_multiplier",
		"repeat_score", "aov_score", "volume_score", "activity_score",
		"rating_score", "response_score", "consistency_score",
		"reliability_score", "experience_score",
		"total_consultations", "unique_customers", "total_bookings",
		"avg_order_value", "median_order_value", "days_active",
		"avg_rating", "response_seconds", "review_count",
		"cancelled_count", "months_on_platform", "repeat_customers",
		"total_customers", "computed_at",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(int64(4), 6.12, 1.0, 0.5, 0.4, 0.7, 1.0, 0.8, 0.9, 0.6, 0.95, 0.3,
			int64(50), int64(30), int64(50), 20.0, 18.0, int64(20), 4.5, int64(40), int64(20),
			int64(2), int64(7), int64(10), int64(30), at).
		AddRow(int64(9), 0.51, 0.5, 0.0, 0.0, 0.0, 0.0, 0.75, 0.5, 0.0, 1.0, 0.5,
			int64(0), int64(0), int64(0), 0.0, 0.0, int64(0), 0.0, nil, int64(0),
			int64(0), nil, int64(0), int64(0), at)
	mock.ExpectQuery(selectPattern).WithArgs("run-7").WillReturnRows(rows)

	records, err := sink.RunRecords(context.Background(), "run-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RunID != "run-7" || records[0].GuideID != 4 || records[0].RankingScore != 6.12 {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[0].ResponseSeconds == nil || *records[0].ResponseSeconds != 40 {
		t.Errorf("expected response seconds 40, got %v", records[0].ResponseSeconds)
	}
	if records[1].ResponseSeconds != nil || records[1].MonthsOnPlatform != nil {
		t.Error("expected null optional columns for second record")
	}
}

func TestPostgresSink_RunRecords_NotFound(t *testing.T) {
	sink, mock := newMockSink(t)
	mock.ExpectQuery(selectPattern).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"guide_id"}))

	_, err := sink.RunRecords(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestPostgresSink_EnsureSchema(t *testing.T) {
	sink, mock := newMockSink(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS guide.ranking_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
