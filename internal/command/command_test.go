package command

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), Spec{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)
}

func TestRun_LineCallbacks(t *testing.T) {
	var out, errs []string
	_, err := Run(context.Background(), Spec{
		Name:     "sh",
		Args:     []string{"-c", `printf 'a\nb\n\nc'; printf 'warn\r\n' >&2`},
		OnStdout: func(l string) { out = append(out, l) },
		OnStderr: func(l string) { errs = append(errs, l) },
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, out)
	require.Equal(t, []string{"warn"}, errs)
}

func TestRun_ExitError(t *testing.T) {
	_, err := Run(context.Background(), Spec{Name: "sh", Args: []string{"-c", "echo nope >&2; exit 4"}})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 4, exitErr.ExitCode)
	require.Contains(t, exitErr.Error(), "command failed with code 4")
	require.Contains(t, exitErr.Error(), "nope")
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	// The child sleep shares the group and dies with it.
	_, err := Run(context.Background(), Spec{
		Name:    "sh",
		Args:    []string{"-c", "sleep 30 & wait"},
		Timeout: 100 * time.Millisecond,
	})

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	require.Equal(t, 100*time.Millisecond, timeoutErr.Timeout)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Run(ctx, Spec{Name: "sh", Args: []string{"-c", "exec sleep 30"}, Timeout: time.Minute})
	require.ErrorIs(t, err, context.Canceled)

	var timeoutErr *TimeoutError
	require.False(t, errors.As(err, &timeoutErr))
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := Run(context.Background(), Spec{Name: "relay-definitely-missing"})
	require.ErrorIs(t, err, exec.ErrNotFound)
}

func TestRun_Env(t *testing.T) {
	res, err := Run(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", `printf %s "$RELAY_TEST_VALUE"`},
		Env:  []string{"RELAY_TEST_VALUE=xyz"},
	})
	require.NoError(t, err)
	require.Equal(t, "xyz", res.Stdout)
}

func TestRunner_AllowList(t *testing.T) {
	r := NewRunner(nil, time.Second)

	require.NoError(t, r.Check(Spec{Name: "git", Args: []string{"init"}}))
	require.NoError(t, r.Check(Spec{Name: "npx", Args: []string{"create-expo-app", "demo", "--template", "blank"}}))
	require.ErrorIs(t, r.Check(Spec{Name: "rm", Args: []string{"-rf", "/"}}), ErrNotAllowed)
	// A prefix must end on a word boundary.
	require.ErrorIs(t, r.Check(Spec{Name: "git", Args: []string{"initx"}}), ErrNotAllowed)

	_, err := r.Run(context.Background(), Spec{Name: "sh", Args: []string{"-c", "true"}})
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestRunner_CustomList(t *testing.T) {
	r := NewRunner([]string{"sh -c"}, time.Second)

	res, err := r.Run(context.Background(), Spec{Name: "sh", Args: []string{"-c", "echo ok"}})
	require.NoError(t, err)
	require.Equal(t, "ok\n", res.Stdout)
}
