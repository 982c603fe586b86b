package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// DefaultSlowThreshold is when the logging middleware starts warning.
const DefaultSlowThreshold = 50 * time.Millisecond

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// ChainMiddleware applies middlewares so the first one is outermost:
// ChainMiddleware(h, a, b) runs a(b(h)).
func ChainMiddleware(handler Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// NewLoggingMiddleware logs failures, and commands slower than threshold,
// which usually means something is doing I/O on the dispatcher.
func NewLoggingMiddleware(threshold time.Duration) Middleware {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd Command) error {
			start := time.Now()
			err := next(ctx, cmd)
			duration := time.Since(start)

			switch {
			case err != nil:
				log.Warn(log.CatOrch, "command failed",
					"command", cmd.Name,
					"duration", duration,
					"error", err.Error())
			case duration > threshold:
				log.Warn(log.CatOrch, "slow command on dispatcher",
					"command", cmd.Name,
					"duration", duration)
			}
			return err
		}
	}
}

// NewRecoveryMiddleware turns a panicking command into an error so one bad
// command cannot take down the dispatcher.
func NewRecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, cmd Command) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error(log.CatOrch, "command panicked", "command", cmd.Name, "panic", r)
					err = fmt.Errorf("command %s panicked: %v", cmd.Name, r)
				}
			}()
			return next(ctx, cmd)
		}
	}
}
