// Package jobs runs multi-phase background operations and exposes their
// progress through the event sink (push) and GetStatus (poll). Job state is
// only read and written on the dispatcher goroutine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/cachemanager"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/processor"
	"github.com/zjrosen/relay/internal/orchestration/tracing"
)

const (
	DefaultLogCapacity  = 100
	DefaultSnapshotTail = 10
	DefaultRetention    = cachemanager.DefaultExpiration
)

// ErrJobNotFound means the id is unknown. The job may have finished and
// aged out of the retention window.
var ErrJobNotFound = errors.New("job not found or expired")

// Dispatcher is the subset of processor.Processor jobs rely on.
type Dispatcher interface {
	Enqueue(ctx context.Context, cmd processor.Command) error
	SubmitAndWait(ctx context.Context, cmd processor.Command) error
}

// Config wires a Supervisor.
type Config struct {
	Dispatcher   Dispatcher
	Sink         events.Sink
	LogCapacity  int
	SnapshotTail int
	Retention    time.Duration
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Supervisor owns the job table.
type Supervisor struct {
	cfg      Config
	live     map[string]*job
	retained cachemanager.CacheManager[string, Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Dispatcher is required.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Sink == nil {
		cfg.Sink = events.NopSink{}
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	if cfg.SnapshotTail <= 0 {
		cfg.SnapshotTail = DefaultSnapshotTail
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		live:     make(map[string]*job),
		retained: cachemanager.NewInMemoryCacheManager[string, Snapshot]("jobs", cfg.Retention, cachemanager.DefaultCleanupInterval),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartOption customizes StartJob.
type StartOption func(*job)

// WithRoom addresses the job's push events to room.
func WithRoom(room string) StartOption {
	return func(j *job) { j.room = room }
}

// StartJob registers a job and runs steps in the background. It returns
// once the job is visible to GetStatus.
func (s *Supervisor) StartJob(ctx context.Context, kind Kind, steps []Step, opts ...StartOption) (string, error) {
	now := s.cfg.Now()
	j := &job{
		id:        uuid.NewString(),
		kind:      kind,
		status:    StatusStarting,
		phase:     "initializing",
		output:    newRing(s.cfg.LogCapacity),
		startedAt: now,
		updatedAt: now,
	}
	for _, opt := range opts {
		opt(j)
	}

	err := s.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "job.start", Run: func(context.Context) error {
		s.live[j.id] = j
		s.publish(j, events.TopicJobStarted)
		return nil
	}})
	if err != nil {
		return "", fmt.Errorf("starting job: %w", err)
	}

	spanCtx, span := tracing.Start(s.ctx, s.cfg.Tracer, tracing.SpanJob,
		attribute.String(tracing.AttrJobID, j.id),
		attribute.String(tracing.AttrJobKind, string(kind)))
	j.span = span

	log.Info(log.CatJob, "Job started", "job", j.id, "kind", kind, "steps", len(steps))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(spanCtx, j, steps)
	}()
	return j.id, nil
}

func (s *Supervisor) run(ctx context.Context, j *job, steps []Step) {
	sc := &StepContext{ctx: ctx, sup: s, job: j}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			s.terminate(j, nil, fmt.Errorf("job cancelled: %w", err))
			return
		}

		if err := s.update(ctx, j, func() {
			j.status = StatusInProgress
			j.phase = step.Phase
			j.advance(step.Progress)
			if step.Message != "" {
				s.appendLine(j, step.Message)
			}
		}); err != nil {
			s.abandon(j, err)
			return
		}

		stepCtx, span := tracing.Start(ctx, s.cfg.Tracer, tracing.SpanJobStep+step.Phase,
			attribute.String(tracing.AttrJobID, j.id),
			attribute.String(tracing.AttrJobPhase, step.Phase))
		sc.ctx = stepCtx
		var err error
		if step.Run != nil {
			err = step.Run(stepCtx, sc)
		}
		tracing.End(span, err)

		if err == nil {
			continue
		}
		if step.Critical {
			s.terminate(j, nil, err)
			return
		}
		log.Warn(log.CatJob, "Non-critical step failed", "job", j.id, "phase", step.Phase, "error", err)
		sc.Output(fmt.Sprintf("[warn] %s: %v", step.Phase, err))
	}

	s.terminate(j, sc.result, nil)
}

// update applies fn on the dispatcher and pushes a snapshot. fn is skipped
// once the job is terminal.
func (s *Supervisor) update(ctx context.Context, j *job, fn func()) error {
	return s.cfg.Dispatcher.Enqueue(ctx, processor.Command{Name: "job.update", Run: func(context.Context) error {
		if j.status.IsTerminal() {
			return nil
		}
		fn()
		j.updatedAt = s.cfg.Now()
		s.publish(j, events.TopicJobUpdated)
		return nil
	}})
}

// terminate moves j to its terminal state and into the retention cache.
func (s *Supervisor) terminate(j *job, result any, jobErr error) {
	// a fresh context so shutdown still records the terminal state
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.cfg.Dispatcher.Enqueue(ctx, processor.Command{Name: "job.finish", Run: func(context.Context) error {
		if j.status.IsTerminal() {
			return nil
		}
		now := s.cfg.Now()
		j.updatedAt = now
		j.completedAt = &now
		if jobErr != nil {
			j.status = StatusFailed
			j.err = jobErr.Error()
		} else {
			j.status = StatusCompleted
			j.phase = PhaseCompleted
			j.progress = 100
			j.result = result
		}
		delete(s.live, j.id)
		snap := j.snapshot(s.cfg.SnapshotTail)
		s.retained.Set(context.Background(), j.id, snap, s.cfg.Retention)
		s.publish(j, events.TopicJobUpdated)
		return nil
	}})
	if err != nil {
		s.abandon(j, err)
		return
	}

	if jobErr != nil {
		log.Warn(log.CatJob, "Job failed", "job", j.id, "error", jobErr)
	} else {
		log.Info(log.CatJob, "Job completed", "job", j.id)
	}
	j.span.SetAttributes(attribute.String(tracing.AttrStatus, string(statusFor(jobErr))))
	tracing.End(j.span, jobErr)
}

// abandon is used when the dispatcher is gone; nothing can be published.
func (s *Supervisor) abandon(j *job, err error) {
	log.ErrorErr(log.CatJob, "Dispatcher unavailable, abandoning job", err, "job", j.id)
	tracing.End(j.span, err)
}

func statusFor(err error) Status {
	if err != nil {
		return StatusFailed
	}
	return StatusCompleted
}

// appendLine stamps and stores one output line. Dispatcher only.
func (s *Supervisor) appendLine(j *job, line string) {
	j.output.push(fmt.Sprintf("[%s] %s", s.cfg.Now().UTC().Format(time.RFC3339), line))
}

func (s *Supervisor) publish(j *job, topic events.Topic) {
	s.cfg.Sink.Publish(events.Envelope{
		Topic:     topic,
		Room:      j.room,
		SourceID:  j.id,
		Timestamp: j.updatedAt,
		Data:      j.snapshot(s.cfg.SnapshotTail),
	})
}

// GetStatus returns the job's snapshot, searching live jobs first and then
// the retention window.
func (s *Supervisor) GetStatus(ctx context.Context, id string) (Snapshot, error) {
	var (
		snap  Snapshot
		found bool
	)
	err := s.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "job.status", Run: func(context.Context) error {
		if j, ok := s.live[id]; ok {
			snap, found = j.snapshot(s.cfg.SnapshotTail), true
		}
		return nil
	}})
	if err != nil {
		return Snapshot{}, err
	}
	if found {
		return snap, nil
	}
	if snap, ok := s.retained.Get(ctx, id); ok {
		return snap, nil
	}
	return Snapshot{}, ErrJobNotFound
}

// ActiveJobs lists non-terminal jobs, oldest first.
func (s *Supervisor) ActiveJobs(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	err := s.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "job.list", Run: func(context.Context) error {
		out = make([]Snapshot, 0, len(s.live))
		for _, j := range s.live {
			out = append(out, j.snapshot(s.cfg.SnapshotTail))
		}
		return nil
	}})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out, nil
}

// Shutdown cancels running steps and waits for their goroutines.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepContext is handed to each Step. Its methods may be called from any
// goroutine the step starts; updates are applied in call order.
type StepContext struct {
	ctx    context.Context
	sup    *Supervisor
	job    *job
	result any
}

// JobID returns the id of the running job.
func (sc *StepContext) JobID() string { return sc.job.id }

// Output appends a timestamped line to the job's log.
func (sc *StepContext) Output(line string) {
	sc.enqueue(func() { sc.sup.appendLine(sc.job, line) })
}

// Advance raises progress within the current phase.
func (sc *StepContext) Advance(progress int) {
	sc.enqueue(func() { sc.job.advance(progress) })
}

// SetResult records the payload exposed once the job completes.
func (sc *StepContext) SetResult(v any) { sc.result = v }

func (sc *StepContext) enqueue(fn func()) {
	if err := sc.sup.update(sc.ctx, sc.job, fn); err != nil {
		log.Debug(log.CatJob, "Dropped job update", "job", sc.job.id, "error", err)
	}
}
