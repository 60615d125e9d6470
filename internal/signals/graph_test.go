package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/astrokiran/guiderank/internal/ranking"
)

type fakeQuerier struct {
	rows   []map[string]any
	err    error
	params map[string]any
}

func (f *fakeQuerier) Query(_ context.Context, _ string, params map[string]any) ([]map[string]any, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestGraphSource_FetchAggregates(t *testing.T) {
	q := &fakeQuerier{rows: []map[string]any{
		{
			"id": int64(7), "name": "Meera", "completed": int64(40), "review_count": int64(20),
			"avg_rating": 4.2, "unique_customers": int64(25), "total_bookings": int64(40),
			"avg_order_value": 22.5, "median_order_value": int64(20), "avg_response_seconds": 60.0,
			"total_cons": int64(44), "cancelled": int64(4), "days_active": int64(9),
			"account_age_seconds": 60 * 24 * 3600.0,
		},
		{
			"id": int64(8), "name": "Kiran", "completed": int64(0), "review_count": int64(0),
			"avg_rating": 0.0, "unique_customers": int64(0), "total_bookings": int64(0),
			"avg_order_value": 0.0, "median_order_value": int64(0), "avg_response_seconds": nil,
			"total_cons": int64(0), "cancelled": int64(0), "days_active": int64(0),
			"account_age_seconds": nil,
		},
	}}
	src := NewGraphSource(q, nil)

	aggs, err := src.FetchAggregates(context.Background(), Request{ExcludedGuideIDs: []int64{1, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}

	a := aggs[0]
	if a.GuideID != 7 || a.Name != "Meera" || a.CompletedConsultations != 40 {
		t.Errorf("unexpected aggregate: %+v", a)
	}
	if a.MedianOrderValue != 20 {
		t.Errorf("expected integer median to convert to 20, got %v", a.MedianOrderValue)
	}
	if a.AvgResponseSeconds == nil || *a.AvgResponseSeconds != 60 {
		t.Errorf("expected response 60s, got %v", a.AvgResponseSeconds)
	}
	if a.MonthsOnPlatform == nil || *a.MonthsOnPlatform != 2 {
		t.Errorf("expected 2 months on platform, got %v", a.MonthsOnPlatform)
	}
	if a.RepeatCustomers != 0 || a.TotalCustomers != 0 {
		t.Errorf("expected no funnel counts from graph, got %d/%d", a.RepeatCustomers, a.TotalCustomers)
	}
	if aggs[1].AvgResponseSeconds != nil || aggs[1].MonthsOnPlatform != nil {
		t.Error("expected unknown optional signals for guide 8")
	}

	excluded, ok := q.params["excluded"].([]int64)
	if !ok || len(excluded) != 2 {
		t.Errorf("expected exclusion list param, got %v", q.params["excluded"])
	}
	if _, ok := q.params["run_time"].(string); !ok {
		t.Errorf("expected run_time string param, got %T", q.params["run_time"])
	}
}

func TestGraphSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		querier *fakeQuerier
		want    error
	}{
		{
			name:    "query failure",
			querier: &fakeQuerier{err: errors.New("bolt: connection refused")},
			want:    ErrSourceUnavailable,
		},
		{
			name:    "missing id",
			querier: &fakeQuerier{rows: []map[string]any{{"name": "ghost"}}},
			want:    ErrMalformedAggregateSet,
		},
		{
			name:    "duplicate id",
			querier: &fakeQuerier{rows: []map[string]any{{"id": int64(3)}, {"id": int64(3)}}},
			want:    ErrMalformedAggregateSet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraphSource(tt.querier, nil).FetchAggregates(context.Background(), Request{})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Errorf("expected ErrSourceUnavailable, got %v", err)
			}
		})
	}
}

func TestAsNumber(t *testing.T) {
	if v, ok := asInt64(int64(3)); !ok || v != 3 {
		t.Errorf("asInt64(int64) = %d, %v", v, ok)
	}
	if v, ok := asInt64(3.9); !ok || v != 3 {
		t.Errorf("asInt64(float64) = %d, %v", v, ok)
	}
	if _, ok := asInt64(nil); ok {
		t.Error("asInt64(nil) should report false")
	}
	if _, ok := asInt64("3"); ok {
		t.Error("asInt64(string) should report false")
	}
	if v, ok := asFloat64(int64(4)); !ok || v != 4 {
		t.Errorf("asFloat64(int64) = %v, %v", v, ok)
	}
	if _, ok := asFloat64(nil); ok {
		t.Error("asFloat64(nil) should report false")
	}
}

type fakeOverlay struct {
	overlay map[int64]relationalOverlay
	err     error
}

func (f *fakeOverlay) fetchOverlay(context.Context, Request) (map[int64]relationalOverlay, error) {
	return f.overlay, f.err
}

func TestHybridSource_Overlay(t *testing.T) {
	graph := NewMemorySource(
		ranking.GuideAggregate{GuideID: 1, CompletedConsultations: 10, DaysActive30d: 2},
		ranking.GuideAggregate{GuideID: 2, CompletedConsultations: 5},
	)
	months := 12.0
	rel := &fakeOverlay{overlay: map[int64]relationalOverlay{
		1: {RepeatCustomers: 3, TotalCustomers: 6, DaysActive30d: 15, MonthsOnPlatform: &months},
	}}
	src := newHybridSource(graph, rel, nil)

	aggs, err := src.FetchAggregates(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected guide missing from relational side to be dropped, got %d", len(aggs))
	}
	a := aggs[0]
	if a.GuideID != 1 || a.CompletedConsultations != 10 {
		t.Errorf("graph fields not kept: %+v", a)
	}
	if a.RepeatCustomers != 3 || a.TotalCustomers != 6 || a.DaysActive30d != 15 {
		t.Errorf("relational overlay not applied: %+v", a)
	}
	if a.MonthsOnPlatform == nil || *a.MonthsOnPlatform != 12 {
		t.Errorf("expected 12 months, got %v", a.MonthsOnPlatform)
	}
	if src.Name() != "hybrid" {
		t.Errorf("expected name hybrid, got %s", src.Name())
	}
}

func TestHybridSource_Failures(t *testing.T) {
	t.Run("graph failure", func(t *testing.T) {
		graph := NewMemorySource()
		graph.FailWith(errors.New("graph down"))
		src := newHybridSource(graph, &fakeOverlay{overlay: map[int64]relationalOverlay{}}, nil)
		if _, err := src.FetchAggregates(context.Background(), Request{}); !errors.Is(err, ErrSourceUnavailable) {
			t.Errorf("expected ErrSourceUnavailable, got %v", err)
		}
	})

	t.Run("relational failure", func(t *testing.T) {
		graph := NewMemorySource(ranking.GuideAggregate{GuideID: 1})
		rel := &fakeOverlay{err: wrapUnavailable("query relational overlay", errors.New("timeout"))}
		src := newHybridSource(graph, rel, nil)
		if _, err := src.FetchAggregates(context.Background(), Request{}); !errors.Is(err, ErrSourceUnavailable) {
			t.Errorf("expected ErrSourceUnavailable, got %v", err)
		}
	})
}
