package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrSessionID = "session.id"
	AttrProvider  = "session.provider"
	AttrExitCode  = "session.exit_code"
	AttrStatus    = "status"

	AttrJobID    = "job.id"
	AttrJobKind  = "job.kind"
	AttrJobPhase = "job.phase"

	AttrProject      = "staging.project"
	AttrBranch       = "staging.branch"
	AttrStagingState = "staging.state"
	AttrAttempt      = "staging.push_attempt"

	AttrCommandName = "dispatcher.command"

	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanSession        = "session"
	SpanJob            = "job"
	SpanJobStep        = "job.step."
	SpanStaging        = "staging"
	SpanStagingState   = "staging.state."
	SpanStagingCleanup = "staging.rollback"
	SpanDispatcher     = "dispatcher."
)

// Event names.
const (
	EventThreadAssigned = "thread.assigned"
	EventCancelled      = "session.cancelled"
	EventPushRetry      = "push.retry"
	EventCleanupFailed  = "cleanup.failed"
)

// Start begins an internal span. tracer may be nil.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Noop()
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err (if any) and ends span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
