package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/echoverse"

// Span names. Stage spans are children of the run span.
const (
	runSpanName     = "pipeline.run"
	stageSpanPrefix = "pipeline."
)

type runIDKey struct{}

// Tracer returns the EchoVerse tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartRun starts the root span of one pipeline run and stores runID in the
// returned context, where [RunID] and [Logger] pick it up.
func StartRun(ctx context.Context, runID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	attrs = append([]attribute.KeyValue{attribute.String("run_id", runID)}, attrs...)
	return StartSpan(ctx, runSpanName, trace.WithAttributes(attrs...))
}

// StartStage starts a child span for one pipeline stage.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, stageSpanPrefix+stage, trace.WithAttributes(attribute.String("stage", stage)))
}

// EndStage annotates a stage span with its outcome and ends it. A non-empty
// reason marks a fallback; err additionally marks the span as failed.
func EndStage(span trace.Span, reason string, err error) {
	if reason != "" {
		span.SetAttributes(attribute.String("reason", reason))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RunID returns the run ID stored by [StartRun], or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// TraceID returns the hex trace ID of the active span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with run_id, trace_id and span_id
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RunID(ctx); id != "" {
		l = l.With(slog.String("run_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
