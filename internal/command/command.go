// Package command runs short-lived external commands with a wall-clock
// ceiling. A command that outlives its timeout has its whole process group
// killed and reports *TimeoutError.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// DefaultTimeout applies when Spec.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// waitDelay bounds how long Wait blocks on pipes held open by orphans after
// the group was killed.
const waitDelay = 2 * time.Second

// Spec describes one invocation.
type Spec struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to os.Environ().
	Env     []string
	Timeout time.Duration
	// OnStdout and OnStderr receive complete lines (without the newline)
	// as they arrive.
	OnStdout func(line string)
	OnStderr func(line string)
	// Mask lists secrets that String, logs and errors replace with ***.
	Mask []string
}

// String renders the command line for logs and errors.
func (s Spec) String() string {
	line := s.Name
	if len(s.Args) > 0 {
		line += " " + strings.Join(s.Args, " ")
	}
	return s.mask(line)
}

func (s Spec) mask(text string) string {
	for _, secret := range s.Mask {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, "***")
		}
	}
	return text
}

// Result is the captured output of a successful run.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// TimeoutError reports a command killed at its deadline.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timeout after %s: %s", e.Timeout, e.Command)
}

// ExitError reports a non-zero exit.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command failed with code %d: %s", e.ExitCode, e.Command)
	}
	return fmt.Sprintf("command failed with code %d: %s: %s", e.ExitCode, e.Command, stderr)
}

// Run executes spec and waits for it. Cancelling ctx kills the command and
// returns ctx.Err(); reaching the timeout returns *TimeoutError; a non-zero
// exit returns *ExitError.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: callers assemble argv; nothing goes through a shell
	cmd := exec.CommandContext(runCtx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	outLines := newLineWriter(&stdout, spec.OnStdout)
	errLines := newLineWriter(&stderr, spec.OnStderr)
	cmd.Stdout = outLines
	cmd.Stderr = errLines

	log.Debug(log.CatCommand, "Executing command", "command", spec.String(), "cwd", spec.Dir)
	start := time.Now()
	err := cmd.Run()
	outLines.Flush()
	errLines.Flush()
	duration := time.Since(start)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%s: %w", spec.String(), ctx.Err())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			log.Warn(log.CatCommand, "Command timed out", "command", spec.String(), "timeout", timeout)
			return nil, &TimeoutError{Command: spec.String(), Timeout: timeout}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Debug(log.CatCommand, "Command failed", "command", spec.String(), "code", exitErr.ExitCode())
			return nil, &ExitError{
				Command:  spec.String(),
				ExitCode: exitErr.ExitCode(),
				Stderr:   spec.mask(stderr.String()),
				Stdout:   spec.mask(stdout.String()),
			}
		}
		return nil, fmt.Errorf("%s: %w", spec.String(), err)
	}

	return &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: duration}, nil
}
