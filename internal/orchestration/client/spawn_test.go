package client

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnBuilder_RequiresExecutable(t *testing.T) {
	_, err := NewSpawnBuilder(context.Background()).Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "executable path is required")
}

func TestSpawnBuilder_MissingBinaryIsSpawnError(t *testing.T) {
	_, err := NewSpawnBuilder(context.Background()).
		WithProvider(ClientGemini).
		WithExecutable("relay-definitely-missing-binary", nil).
		Build()

	var spawnErr *ProcessSpawnError
	require.True(t, errors.As(err, &spawnErr), "got %v", err)
	require.Equal(t, ClientGemini, spawnErr.Provider)
}

func TestSpawnBuilder_RunsAndPipesOutput(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background()).
		WithExecutable("sh", []string{"-c", "echo out; echo err 1>&2; exit 3"}).
		WithWorkDir(t.TempDir()).
		WithEnv([]string{"RELAY_TEST=1"}).
		Build()
	require.NoError(t, err)
	require.NotZero(t, proc.Pid())

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	stderr, err := io.ReadAll(proc.Stderr())
	require.NoError(t, err)

	code, err := proc.Wait()
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.Equal(t, "out", strings.TrimSpace(string(stdout)))
	require.Equal(t, "err", strings.TrimSpace(string(stderr)))
}

func TestSpawnBuilder_CommandFactory(t *testing.T) {
	var gotName string
	var gotArgs []string

	proc, err := NewSpawnBuilder(context.Background()).
		WithExecutable("claude", []string{"--print", "hi"}).
		WithLookPath(func(file string) (string, error) { return file, nil }).
		WithCommandFactory(func(ctx context.Context, name string, args ...string) *exec.Cmd {
			gotName, gotArgs = name, args
			return exec.CommandContext(ctx, "sh", "-c", "true")
		}).
		Build()
	require.NoError(t, err)

	_, _ = io.ReadAll(proc.Stdout())
	_, _ = io.ReadAll(proc.Stderr())
	code, err := proc.Wait()
	require.NoError(t, err)
	require.Zero(t, code)
	require.Equal(t, "claude", gotName)
	require.Equal(t, []string{"--print", "hi"}, gotArgs)
}

func TestProcess_TerminateStopsLongRunning(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background()).
		WithExecutable("sh", []string{"-c", "exec sleep 30"}).
		WithTerminateGrace(200 * time.Millisecond).
		Build()
	require.NoError(t, err)

	require.NoError(t, proc.Terminate())

	done := make(chan int, 1)
	go func() {
		_, _ = io.ReadAll(proc.Stdout())
		_, _ = io.ReadAll(proc.Stderr())
		code, _ := proc.Wait()
		done <- code
	}()

	select {
	case code := <-done:
		require.NotZero(t, code)
	case <-time.After(5 * time.Second):
		require.Fail(t, "process did not exit after Terminate")
	}

	require.NoError(t, proc.Terminate(), "terminate after exit is a no-op")
}

func TestProcess_ExitIsNotHeldByBackgroundChild(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background()).
		WithExecutable("sh", []string{"-c", "sleep 20 & echo started; exit 0"}).
		WithOutputGrace(100 * time.Millisecond).
		Build()
	require.NoError(t, err)
	t.Cleanup(proc.Kill)

	done := make(chan string, 1)
	go func() {
		out, _ := io.ReadAll(proc.Stdout())
		_, _ = io.ReadAll(proc.Stderr())
		done <- string(out)
	}()

	select {
	case out := <-done:
		require.Equal(t, "started", strings.TrimSpace(out))
	case <-time.After(5 * time.Second):
		require.Fail(t, "output stayed open after the process exited")
	}

	code, err := proc.Wait()
	require.NoError(t, err)
	require.Zero(t, code)
}

func TestProcess_WaitDoesNotNeedReaders(t *testing.T) {
	proc, err := NewSpawnBuilder(context.Background()).
		WithExecutable("sh", []string{"-c", "echo late; exit 4"}).
		Build()
	require.NoError(t, err)

	code, err := proc.Wait()
	require.NoError(t, err)
	require.Equal(t, 4, code)

	// Output buffered before exit is still readable.
	out, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	require.Equal(t, "late", strings.TrimSpace(string(out)))
}

func TestProcess_TerminateReachesProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix only")
	}
	proc, err := NewSpawnBuilder(context.Background()).
		WithExecutable("sh", []string{"-c", "sleep 30 & wait"}).
		WithTerminateGrace(5 * time.Second).
		WithOutputGrace(10 * time.Second).
		Build()
	require.NoError(t, err)

	require.NoError(t, proc.Terminate())

	done := make(chan struct{})
	go func() {
		_, _ = io.ReadAll(proc.Stdout())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		require.Fail(t, "background child kept running after Terminate")
	}
	<-proc.Exited()
}
