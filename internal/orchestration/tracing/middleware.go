package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/orchestration/processor"
)

// NewDispatcherMiddleware opens one span per dispatcher command. A nil
// tracer yields a pass-through.
func NewDispatcherMiddleware(tracer trace.Tracer) processor.Middleware {
	if tracer == nil {
		return func(next processor.Handler) processor.Handler { return next }
	}

	return func(next processor.Handler) processor.Handler {
		return func(ctx context.Context, cmd processor.Command) error {
			ctx, span := Start(ctx, tracer, SpanDispatcher+cmd.Name,
				attribute.String(AttrCommandName, cmd.Name))
			err := next(ctx, cmd)
			End(span, err)
			return err
		}
	}
}
