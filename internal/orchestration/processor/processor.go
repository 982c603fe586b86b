// Package processor provides the single-goroutine FIFO dispatcher that owns
// all session and job state. Every state transition is a Command executed
// on the dispatcher goroutine, so the state it touches needs no locks.
package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity is the default buffer size for the command queue.
const DefaultQueueCapacity = 1000

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("dispatcher queue is full")
	// ErrProcessorStopped is returned when the dispatcher is not running.
	ErrProcessorStopped = errors.New("dispatcher is not running")
)

// Command is one unit of work run on the dispatcher goroutine. Run must not
// block on I/O and must not call SubmitAndWait.
type Command struct {
	// Name labels the command for logging and metrics.
	Name string
	// Run mutates dispatcher-owned state.
	Run func(ctx context.Context) error
}

// Handler executes a command. Middleware wraps handlers.
type Handler func(ctx context.Context, cmd Command) error

// Option configures the Processor.
type Option func(*Processor)

// WithQueueCapacity sets the command queue buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(p *Processor) {
		if capacity > 0 {
			p.queueCapacity = capacity
		}
	}
}

// WithMiddleware adds middleware; the first one wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(p *Processor) {
		p.middlewares = append(p.middlewares, middlewares...)
	}
}

// Processor runs commands one at a time in submission order.
type Processor struct {
	queue         chan queueItem
	queueCapacity int
	middlewares   []Middleware
	handler       Handler

	// mu guards queue sends against close in Drain.
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	started atomic.Bool
	readyCh chan struct{}

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

type queueItem struct {
	cmd      Command
	resultCh chan error
}

// New creates a Processor. Call Run to start it.
func New(opts ...Option) *Processor {
	p := &Processor{
		queueCapacity: DefaultQueueCapacity,
		readyCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan queueItem, p.queueCapacity)
	p.handler = ChainMiddleware(execute, p.middlewares...)
	return p
}

func execute(ctx context.Context, cmd Command) error {
	if cmd.Run == nil {
		return nil
	}
	return cmd.Run(ctx)
}

// Run processes commands until ctx is cancelled, Stop is called, or Drain
// finishes. Only the first call does anything.
func (p *Processor) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	p.running.Store(true)
	close(p.readyCh)

	defer func() {
		p.running.Store(false)
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(item)
		}
	}
}

// WaitForReady blocks until Run has started.
func (p *Processor) WaitForReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues cmd without blocking.
func (p *Processor) Submit(cmd Command) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrProcessorStopped
	}
	select {
	case p.queue <- queueItem{cmd: cmd}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue blocks until cmd is queued or ctx is done. Output readers use it
// so that back-pressure slows the reader instead of dropping lines.
func (p *Processor) Enqueue(ctx context.Context, cmd Command) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrProcessorStopped
	}
	select {
	case p.queue <- queueItem{cmd: cmd}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrProcessorStopped
	}
}

// SubmitAndWait enqueues cmd and waits for it to run, returning its error.
func (p *Processor) SubmitAndWait(ctx context.Context, cmd Command) error {
	resultCh := make(chan error, 1)

	p.mu.RLock()
	if !p.running.Load() {
		p.mu.RUnlock()
		return ErrProcessorStopped
	}
	select {
	case p.queue <- queueItem{cmd: cmd, resultCh: resultCh}:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	case <-p.ctx.Done():
		p.mu.RUnlock()
		return ErrProcessorStopped
	}
	p.mu.RUnlock()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrProcessorStopped
	}
}

// Stop cancels processing; queued commands are not run.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain stops accepting commands, runs everything already queued, then
// returns.
func (p *Processor) Drain() {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return
	}
	p.running.Store(false)
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// IsRunning reports whether the processor accepts commands.
func (p *Processor) IsRunning() bool { return p.running.Load() }

// ProcessedCount returns the number of commands run.
func (p *Processor) ProcessedCount() int64 { return p.processedCount.Load() }

// ErrorCount returns the number of commands that returned an error.
func (p *Processor) ErrorCount() int64 { return p.errorCount.Load() }

// QueueLength returns the number of pending commands.
func (p *Processor) QueueLength() int { return len(p.queue) }

func (p *Processor) process(item queueItem) {
	err := p.handler(p.ctx, item.cmd)

	p.processedCount.Add(1)
	if err != nil {
		p.errorCount.Add(1)
	}
	if item.resultCh != nil {
		item.resultCh <- err
		close(item.resultCh)
	}
}
