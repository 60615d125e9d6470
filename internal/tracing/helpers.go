package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation names used for the ranker's tracers.
const (
	TracerName   = "guiderank"
	DBTracerName = "guiderank/db"
)

// DBOperation represents the type of database operation being traced.
type DBOperation string

const (
	// DBOperationQuery represents a read query.
	DBOperationQuery DBOperation = "query"
	// DBOperationInsert represents an INSERT operation.
	DBOperationInsert DBOperation = "insert"
	// DBOperationUpdate represents an UPDATE operation.
	DBOperationUpdate DBOperation = "update"
	// DBOperationExec represents a generic EXEC operation.
	DBOperationExec DBOperation = "exec"
)

// Database systems recorded on db spans.
const (
	DBSystemPostgres = "postgresql"
	DBSystemNeo4j    = "neo4j"
)

// StartDBSpan creates a new span for a PostgreSQL operation.
// Returns the new context and a function to end the span.
//
// Example usage:
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, "ranking_history", tracing.DBOperationInsert)
//	defer func() { endSpan(err) }()
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	return startStoreSpan(ctx, DBSystemPostgres, "db.sql.table", table, operation)
}

// StartGraphSpan creates a new span for a Neo4j operation against the given
// node label.
func StartGraphSpan(ctx context.Context, label string, operation DBOperation) (context.Context, func(error)) {
	return startStoreSpan(ctx, DBSystemNeo4j, "db.neo4j.label", label, operation)
}

func startStoreSpan(ctx context.Context, system, targetKey, target string, operation DBOperation) (context.Context, func(error)) {
	tracer := otel.Tracer(DBTracerName)

	spanName := string(operation)
	if target != "" {
		spanName = spanName + " " + target
	}

	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", string(operation)),
		),
	)

	if target != "" {
		span.SetAttributes(attribute.String(targetKey, target))
	}

	return ctx, endFunc(span)
}

// StartSpan creates a new span for a general operation.
// Returns the new context and a function to end the span.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, name)
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
