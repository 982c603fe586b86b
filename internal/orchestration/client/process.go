package client

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// Process is a started agent process.
//
// Exit is observed independently of the output pipes. Once the process has
// exited, Stdout and Stderr report EOF as soon as they stay idle for the
// output grace period, even when a background child the agent launched
// still holds them open.
type Process struct {
	cmd      *exec.Cmd
	provider ClientType
	stdout   *outputPipe
	stderr   *outputPipe
	cancel   context.CancelFunc
	grace    time.Duration

	done    chan struct{}
	code    int
	waitErr error

	mu        sync.Mutex
	exited    bool
	killTimer *time.Timer
}

func newProcess(cmd *exec.Cmd, provider ClientType, stdout, stderr *os.File, cancel context.CancelFunc, grace, outputGrace time.Duration) *Process {
	p := &Process{
		cmd:      cmd,
		provider: provider,
		stdout:   &outputPipe{f: stdout, idle: outputGrace},
		stderr:   &outputPipe{f: stderr, idle: outputGrace},
		cancel:   cancel,
		grace:    grace,
		done:     make(chan struct{}),
	}
	go p.wait()
	return p
}

// Stdout returns the process's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the process's standard error.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate sends SIGTERM to the process group and schedules a hard kill
// of the group after the grace period. It returns once the signal is sent.
// Safe to call after exit.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited || p.cmd.Process == nil {
		return nil
	}
	if p.killTimer == nil {
		p.killTimer = time.AfterFunc(p.grace, p.cancel)
	}
	if err := signalGroup(p.cmd.Process, syscall.SIGTERM); err != nil {
		// Signal delivery is unsupported on some platforms; fall back to kill.
		p.cancel()
		return err
	}
	return nil
}

// Kill terminates the process group immediately.
func (p *Process) Kill() {
	p.cancel()
}

// Exited is closed once the process has exited.
func (p *Process) Exited() <-chan struct{} { return p.done }

// Wait blocks until exit and returns the exit code. It does not depend on
// the output being read. A process killed by a signal reports -1. err is
// only set when the process could not be waited on at all, never for a
// non-zero exit.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.code, p.waitErr
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	p.mu.Unlock()

	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	} else {
		p.code, p.waitErr = -1, err
	}

	p.stdout.exit()
	p.stderr.exit()
	close(p.done)
	p.cancel()

	log.Debug(log.CatSession, "Process exited", "provider", p.provider, "pid", p.Pid(), "exitCode", p.code)
}

// outputPipe is the read end of one of the agent's output pipes. Before
// exit reads block as usual. After exit each read gets the idle deadline,
// and a read that times out is reported as EOF.
type outputPipe struct {
	f    *os.File
	idle time.Duration

	mu     sync.Mutex
	exited bool
	closed bool
}

func (o *outputPipe) Read(b []byte) (int, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, io.EOF
	}
	if o.exited {
		_ = o.f.SetReadDeadline(time.Now().Add(o.idle))
	}
	o.mu.Unlock()

	n, err := o.f.Read(b)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		log.Debug(log.CatSession, "Output still open after exit, detaching", "idle", o.idle)
	} else if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		o.close()
		return n, err
	}
	o.close()
	return n, io.EOF
}

// exit arms the idle deadline for a read already blocked at exit time.
func (o *outputPipe) exit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exited = true
	if !o.closed {
		_ = o.f.SetReadDeadline(time.Now().Add(o.idle))
	}
}

func (o *outputPipe) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		_ = o.f.Close()
	}
}
