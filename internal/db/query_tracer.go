package db

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "momoshop_db_query_duration_seconds",
	Help:    "Duration of PostgreSQL queries grouped by operation and outcome.",
	Buckets: prometheus.DefBuckets,
}, []string{"operation", "result"})

type queryTraceContextKey struct{}

type queryTrace struct {
	span      *sentry.Span
	operation string
	startedAt time.Time
}

// queryTracer reports every query as a Prometheus observation and, when the
// caller is inside a Sentry transaction, as a child span.
type queryTracer struct{}

func newQueryTracer() *queryTracer {
	return &queryTracer{}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	query := normalizeQuery(data.SQL)
	trace := &queryTrace{
		operation: queryOperation(query),
		startedAt: time.Now(),
	}

	if sentry.SpanFromContext(ctx) != nil {
		span := sentry.StartSpan(
			ctx,
			"db.sql.query",
			sentry.WithDescription(query),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		span.SetData("db.system", "postgresql")
		if trace.operation != "" {
			span.SetData("db.operation", trace.operation)
		}
		trace.span = span
		ctx = span.Context()
	}

	return context.WithValue(ctx, queryTraceContextKey{}, trace)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, _ := ctx.Value(queryTraceContextKey{}).(*queryTrace)
	if trace == nil {
		return
	}

	result := "ok"
	if data.Err != nil {
		result = "error"
	}
	operation := trace.operation
	if operation == "" {
		operation = "UNKNOWN"
	}
	queryDuration.WithLabelValues(operation, result).Observe(time.Since(trace.startedAt).Seconds())

	span := trace.span
	if span == nil {
		return
	}
	if data.Err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("db.error", data.Err.Error())
	} else {
		span.Status = sentry.SpanStatusOK
	}
	if rowsAffected := data.CommandTag.RowsAffected(); rowsAffected >= 0 {
		span.SetData("db.rows_affected", rowsAffected)
	}
	span.Finish()
}

func normalizeQuery(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return "sql.query"
	}

	const maxLen = 512
	if len(normalized) > maxLen {
		return normalized[:maxLen]
	}
	return normalized
}

func queryOperation(query string) string {
	parts := strings.Fields(query)
	if len(parts) == 0 || query == "sql.query" {
		return ""
	}
	return strings.ToUpper(parts[0])
}
