package processor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/log"
)

func TestChainMiddleware_Order(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, cmd Command) error {
				trace = append(trace, name+">")
				err := next(ctx, cmd)
				trace = append(trace, "<"+name)
				return err
			}
		}
	}

	h := ChainMiddleware(func(context.Context, Command) error {
		trace = append(trace, "run")
		return nil
	}, mark("a"), mark("b"))

	require.NoError(t, h(context.Background(), Command{Name: "x"}))
	require.Equal(t, []string{"a>", "b>", "run", "<b", "<a"}, trace)
}

func TestRecoveryMiddleware_ConvertsPanic(t *testing.T) {
	var buf bytes.Buffer
	log.InitWriter(&buf, log.LevelDebug)

	p := startProcessor(t, WithMiddleware(NewRecoveryMiddleware()))

	err := p.SubmitAndWait(context.Background(), Command{Name: "explode", Run: func(context.Context) error {
		panic("kaboom")
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "explode panicked: kaboom")
	require.Contains(t, buf.String(), "command panicked")

	// The dispatcher survives.
	require.NoError(t, p.SubmitAndWait(context.Background(), Command{Name: "ok"}))
}

func TestLoggingMiddleware_LogsFailuresAndSlowCommands(t *testing.T) {
	var buf bytes.Buffer
	log.InitWriter(&buf, log.LevelDebug)

	mw := NewLoggingMiddleware(5 * time.Millisecond)

	fail := mw(func(context.Context, Command) error { return errors.New("nope") })
	require.Error(t, fail(context.Background(), Command{Name: "failing"}))
	require.Contains(t, buf.String(), "command failed command=failing")

	slow := mw(func(context.Context, Command) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	require.NoError(t, slow(context.Background(), Command{Name: "sluggish"}))
	require.Contains(t, buf.String(), "slow command on dispatcher command=sluggish")
}
