package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/astrokiran/guiderank/internal/tracing"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestRunSpanTree checks that store spans opened inside a run span share its
// trace and name it as their parent.
func TestRunSpanTree(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx, endRun := tracing.StartSpan(context.Background(), "ranking.run")

	fetchCtx, endFetch := tracing.StartSpan(ctx, "ranking.fetch")
	_, endGraph := tracing.StartGraphSpan(fetchCtx, "Guide", tracing.DBOperationQuery)
	endGraph(nil)
	_, endOverlay := tracing.StartDBSpan(fetchCtx, "guide_overlay", tracing.DBOperationQuery)
	endOverlay(nil)
	endFetch(nil)

	persistCtx, endPersist := tracing.StartSpan(ctx, "ranking.persist")
	_, endInsert := tracing.StartDBSpan(persistCtx, "ranking_history", tracing.DBOperationInsert)
	endInsert(errors.New("unique violation"))
	endPersist(errors.New("persist failed"))
	endRun(nil)

	spans := recorder.Ended()
	if len(spans) != 6 {
		t.Fatalf("expected 6 spans, got %d", len(spans))
	}

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range spans {
		byName[span.Name()] = span
	}

	run := byName["ranking.run"]
	if run == nil {
		t.Fatal("missing ranking.run span")
	}
	traceID := run.SpanContext().TraceID()

	parents := map[string]string{
		"ranking.fetch":          "ranking.run",
		"ranking.persist":        "ranking.run",
		"query Guide":            "ranking.fetch",
		"query guide_overlay":    "ranking.fetch",
		"insert ranking_history": "ranking.persist",
	}
	for child, parent := range parents {
		span := byName[child]
		if span == nil {
			t.Errorf("missing span %q", child)
			continue
		}
		if span.SpanContext().TraceID() != traceID {
			t.Errorf("span %q is in a different trace", child)
		}
		if span.Parent().SpanID() != byName[parent].SpanContext().SpanID() {
			t.Errorf("expected %q to be a child of %q", child, parent)
		}
	}

	if byName["ranking.persist"].Status().Code.String() != "Error" {
		t.Error("expected persist span to carry the error status")
	}
	if run.Status().Code.String() != "Unset" {
		t.Errorf("expected run span status Unset, got %s", run.Status().Code.String())
	}
}

// TestTracingDisabled verifies the helpers are safe with a disabled provider.
func TestTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{ServiceName: "guiderank", Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.IsEnabled() {
		t.Fatal("expected tracing to be disabled")
	}

	ctx, endSpan := tracing.StartSpan(context.Background(), "ranking.run")
	_, endDB := tracing.StartDBSpan(ctx, "guide_aggregates", tracing.DBOperationQuery)
	endDB(nil)
	endSpan(nil)

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}
