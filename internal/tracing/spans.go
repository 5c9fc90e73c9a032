package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartCycleSpan creates the root span for one patrol cycle. cycleID is the
// correlation id threaded through the cycle's log lines.
func StartCycleSpan(ctx context.Context, cycleID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "patrol.cycle",
		trace.WithAttributes(attribute.String("patrol.cycle_id", cycleID)),
	)
}

// StartMonitorSpan creates a child span covering one monitor's check.
func StartMonitorSpan(ctx context.Context, userID, url string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "patrol.monitor",
		trace.WithAttributes(
			attribute.String("monitor.user", userID),
			attribute.String("monitor.url", url),
		),
	)
}

// StartFetchSpan creates a client span for one outbound page fetch.
func StartFetchSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "fetch.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", url)),
	)
}

// StartStoreSpan creates a span for one persistence write.
func StartStoreSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "store.write")
}

// SetFetchResult adds outcome attributes to the current span.
func SetFetchResult(ctx context.Context, statusCode, bodyBytes int, fetchErr string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("http.response.status_code", statusCode),
		attribute.Int("fetch.body_bytes", bodyBytes),
	)
	if fetchErr != "" {
		span.SetAttributes(attribute.String("fetch.error", fetchErr))
	}
}

// SetCycleStats adds the per-cycle tallies to the current span.
func SetCycleStats(ctx context.Context, checked, changed, failed int, dirty bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("patrol.checked", checked),
		attribute.Int("patrol.changed", changed),
		attribute.Int("patrol.failed", failed),
		attribute.Bool("patrol.dirty", dirty),
	)
}

// SetMonitorOutcome labels the current span with how the check resolved:
// "skipped", "failed", "rate_limited", "baseline", "changed", or "unchanged".
func SetMonitorOutcome(ctx context.Context, outcome string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("monitor.outcome", outcome))
}

// RecordError records err on the current span. Nil errors are ignored.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
