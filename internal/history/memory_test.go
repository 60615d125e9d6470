package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/astrokiran/guiderank/internal/ranking"
)

func TestMemorySink_AppendOnly(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	results := []ranking.RankingResult{scoredGuide(1, 20), scoredGuide(2, 10), scoredGuide(3, 1)}

	const runs = 4
	for i := 0; i < runs; i++ {
		runID := "run-" + string(rune('a'+i))
		n, err := sink.AppendHistory(ctx, NewRecords(runID, results, time.Now()))
		if err != nil {
			t.Fatalf("run %d: append failed: %v", i, err)
		}
		if n != len(results) {
			t.Errorf("run %d: expected %d inserted, got %d", i, len(results), n)
		}
	}

	first := sink.Rows()[0]
	for _, id := range []int64{1, 2, 3} {
		if got := len(sink.RowsForGuide(id)); got != runs {
			t.Errorf("guide %d: expected %d rows, got %d", id, runs, got)
		}
	}
	if sink.Rows()[0] != first {
		t.Error("existing row changed after later runs")
	}
}

func TestMemorySink_IdempotentRun(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	records := NewRecords("run-x", []ranking.RankingResult{scoredGuide(1, 20)}, time.Now())

	if n, _ := sink.AppendHistory(ctx, records); n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}
	retry := NewRecords("run-x", []ranking.RankingResult{scoredGuide(1, 0)}, time.Now())
	n, err := sink.AppendHistory(ctx, retry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected replayed run to insert nothing, got %d", n)
	}
	if rows := sink.Rows(); len(rows) != 1 || rows[0].RankingScore != records[0].RankingScore {
		t.Errorf("expected original row kept, got %+v", rows)
	}
}

func TestMemorySink_PersistRunAtomic(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	records := NewRecords("run", []ranking.RankingResult{scoredGuide(1, 20)}, time.Now())

	sink.FailUpdate(errors.New("lock timeout"))
	_, _, err := sink.PersistRun(ctx, records, CurrentScores(records))
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if len(sink.Rows()) != 0 {
		t.Error("expected no history after failed atomic persist")
	}
	if _, ok := sink.Current(1); ok {
		t.Error("expected no current score after failed atomic persist")
	}

	sink.FailUpdate(nil)
	inserted, updated, err := sink.PersistRun(ctx, records, CurrentScores(records))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 1 || updated != 1 {
		t.Errorf("expected 1/1, got %d/%d", inserted, updated)
	}
}

func TestMemorySink_Failures(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	sink.FailAppend(errors.New("disk full"))
	if _, err := sink.AppendHistory(ctx, nil); !errors.Is(err, ErrPersistenceFailure) {
		t.Errorf("expected ErrPersistenceFailure from append, got %v", err)
	}

	sink.FailUpdate(errors.New("deadlock"))
	if _, err := sink.SetCurrentScores(ctx, []CurrentScore{{GuideID: 1, Score: 2}}); !errors.Is(err, ErrPersistenceFailure) {
		t.Errorf("expected ErrPersistenceFailure from update, got %v", err)
	}
}
