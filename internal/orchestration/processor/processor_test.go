package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startProcessor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	p := New(opts...)
	go p.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.WaitForReady(ctx))
	t.Cleanup(p.Stop)
	return p
}

func TestProcessor_RunsInSubmissionOrder(t *testing.T) {
	p := startProcessor(t)

	var got []int
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(Command{Name: "append", Run: func(context.Context) error {
			got = append(got, i)
			return nil
		}}))
	}

	// The barrier runs after everything queued before it.
	require.NoError(t, p.SubmitAndWait(context.Background(), Command{Name: "barrier"}))

	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}
	require.Equal(t, int64(51), p.ProcessedCount())
}

func TestProcessor_SubmitAndWaitReturnsCommandError(t *testing.T) {
	p := startProcessor(t)
	boom := errors.New("boom")

	err := p.SubmitAndWait(context.Background(), Command{Name: "fail", Run: func(context.Context) error {
		return boom
	}})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(1), p.ErrorCount())
}

func TestProcessor_SubmitBeforeRun(t *testing.T) {
	p := New()

	require.ErrorIs(t, p.Submit(Command{Name: "x"}), ErrProcessorStopped)
	require.ErrorIs(t, p.Enqueue(context.Background(), Command{Name: "x"}), ErrProcessorStopped)
	require.ErrorIs(t, p.SubmitAndWait(context.Background(), Command{Name: "x"}), ErrProcessorStopped)
}

func TestProcessor_QueueFull(t *testing.T) {
	p := startProcessor(t, WithQueueCapacity(1))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(Command{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, p.Submit(Command{Name: "queued"}))
	require.ErrorIs(t, p.Submit(Command{Name: "overflow"}), ErrQueueFull)
	require.Equal(t, 1, p.QueueLength())

	close(release)
}

func TestProcessor_EnqueueHonoursContext(t *testing.T) {
	p := startProcessor(t, WithQueueCapacity(1))

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(Command{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, p.Submit(Command{Name: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Enqueue(ctx, Command{Name: "late"}), context.DeadlineExceeded)
}

func TestProcessor_EnqueueBlocksUntilSpace(t *testing.T) {
	p := startProcessor(t, WithQueueCapacity(1))

	var mu sync.Mutex
	var ran []string
	record := func(name string) Command {
		return Command{Name: name, Run: func(context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}}
	}

	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, p.Enqueue(context.Background(), record(name)))
	}
	require.NoError(t, p.SubmitAndWait(context.Background(), Command{Name: "barrier"}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c", "d"}, ran)
}

func TestProcessor_DrainRunsQueuedCommands(t *testing.T) {
	p := New()
	go p.Run(context.Background())
	require.NoError(t, p.WaitForReady(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(Command{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	count := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Command{Name: "inc", Run: func(context.Context) error {
			count++
			return nil
		}}))
	}

	done := make(chan struct{})
	go func() {
		p.Drain()
		close(done)
	}()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "drain did not finish")
	}

	require.Equal(t, 5, count)
	require.False(t, p.IsRunning())
	require.ErrorIs(t, p.Submit(Command{Name: "after"}), ErrProcessorStopped)
}

func TestProcessor_RunOnlyOnce(t *testing.T) {
	p := startProcessor(t)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "second Run should return immediately")
	}
	require.True(t, p.IsRunning())
}

func TestProcessor_StopCancelsCommandContext(t *testing.T) {
	p := New()
	go p.Run(context.Background())
	require.NoError(t, p.WaitForReady(context.Background()))

	var cmdCtx context.Context
	require.NoError(t, p.SubmitAndWait(context.Background(), Command{Name: "capture", Run: func(ctx context.Context) error {
		cmdCtx = ctx
		return nil
	}}))

	p.Stop()
	require.ErrorIs(t, cmdCtx.Err(), context.Canceled)
	require.False(t, p.IsRunning())
}
