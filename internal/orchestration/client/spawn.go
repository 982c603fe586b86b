package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

const (
	// DefaultTerminateGrace is how long Terminate waits before killing.
	DefaultTerminateGrace = 5 * time.Second
	// DefaultOutputGrace is how long output may stay idle after exit before
	// the pipes are treated as closed.
	DefaultOutputGrace = 2 * time.Second
)

// CommandFactoryFunc creates an exec.Cmd. Tests swap it to run scripts
// instead of real agent binaries. The command must be built with
// exec.CommandContext on the given ctx.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// LookPathFunc resolves an executable; exec.LookPath by default.
type LookPathFunc func(file string) (string, error)

// SpawnBuilder provides a fluent API for starting an agent process with
// piped stdout and stderr.
type SpawnBuilder struct {
	ctx            context.Context
	provider       ClientType
	execPath       string
	args           []string
	workDir        string
	env            []string
	grace          time.Duration
	outputGrace    time.Duration
	commandFactory CommandFactoryFunc
	lookPath       LookPathFunc
}

// NewSpawnBuilder creates a builder bound to ctx. Cancelling ctx kills the
// process.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:         ctx,
		provider:    "unknown",
		grace:       DefaultTerminateGrace,
		outputGrace: DefaultOutputGrace,
		lookPath:    exec.LookPath,
	}
}

// WithExecutable sets the executable and its arguments.
func (b *SpawnBuilder) WithExecutable(path string, args []string) *SpawnBuilder {
	b.execPath = path
	b.args = args
	return b
}

// WithWorkDir sets the working directory.
func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder {
	b.workDir = dir
	return b
}

// WithEnv appends "KEY=VALUE" entries to os.Environ().
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithProvider sets the provider for logging and error reporting.
func (b *SpawnBuilder) WithProvider(t ClientType) *SpawnBuilder {
	b.provider = t
	return b
}

// WithTerminateGrace sets how long Terminate waits before a hard kill.
func (b *SpawnBuilder) WithTerminateGrace(d time.Duration) *SpawnBuilder {
	if d > 0 {
		b.grace = d
	}
	return b
}

// WithOutputGrace sets how long output may stay idle after the process
// exits before reads report EOF.
func (b *SpawnBuilder) WithOutputGrace(d time.Duration) *SpawnBuilder {
	if d > 0 {
		b.outputGrace = d
	}
	return b
}

// WithCommandFactory overrides exec.CommandContext.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// WithLookPath overrides the executable lookup.
func (b *SpawnBuilder) WithLookPath(fn LookPathFunc) *SpawnBuilder {
	if fn != nil {
		b.lookPath = fn
	}
	return b
}

// Build resolves the executable, creates the pipes and starts the process.
// A binary that cannot be found or started yields *ProcessSpawnError.
// On error every resource created so far is released.
func (b *SpawnBuilder) Build() (*Process, error) {
	if b.execPath == "" {
		return nil, errors.New("spawn builder: executable path is required")
	}

	resolved, err := b.lookPath(b.execPath)
	if err != nil {
		return nil, &ProcessSpawnError{Provider: b.provider, Executable: b.execPath, Err: err}
	}

	procCtx, cancel := context.WithCancel(b.ctx)

	var cmd *exec.Cmd
	if b.commandFactory != nil {
		cmd = b.commandFactory(procCtx, resolved, b.args...)
	} else {
		// #nosec G204 -- args are assembled by the provider, the prompt is a single argv entry
		cmd = exec.CommandContext(procCtx, resolved, b.args...)
	}
	cmd.Dir = b.workDir
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	setProcessGroup(cmd)

	// The pipes are created here rather than with StdoutPipe so that Wait
	// never closes them under a reader that has not drained them yet.
	var files []*os.File
	cleanup := func() {
		cancel()
		for _, f := range files {
			_ = f.Close()
		}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stdout pipe: %w", err)
	}
	files = append(files, stdoutR, stdoutW)
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stderr pipe: %w", err)
	}
	files = append(files, stderrR, stderrW)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	log.Debug(log.CatSession, "Spawning process",
		"provider", b.provider,
		"execPath", resolved,
		"workDir", b.workDir)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, &ProcessSpawnError{Provider: b.provider, Executable: resolved, Err: err}
	}
	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	log.Debug(log.CatSession, "Process started",
		"provider", b.provider,
		"pid", cmd.Process.Pid)

	return newProcess(cmd, b.provider, stdoutR, stderrR, cancel, b.grace, b.outputGrace), nil
}
