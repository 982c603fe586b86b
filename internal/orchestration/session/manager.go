package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/classify"
	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/processor"
	"github.com/zjrosen/relay/internal/orchestration/stream"
	"github.com/zjrosen/relay/internal/orchestration/tracing"
)

const readBufferSize = 32 * 1024

// Dispatcher is the subset of processor.Processor sessions rely on.
type Dispatcher interface {
	Enqueue(ctx context.Context, cmd processor.Command) error
	SubmitAndWait(ctx context.Context, cmd processor.Command) error
}

var _ Dispatcher = (*processor.Processor)(nil)

// Config wires a Manager.
type Config struct {
	Dispatcher Dispatcher
	Sink       events.Sink
	// Classifier sorts stderr lines; classify.Default() when nil.
	Classifier classify.LineClassifier
	// Providers holds per-provider operator configuration.
	Providers map[client.ClientType]client.ProviderConfig
	// TerminateGrace is the SIGTERM to SIGKILL delay on cancel.
	TerminateGrace time.Duration
	// OutputGrace is how long output may stay idle after exit before the
	// session ends. Background children of the agent do not hold it open.
	OutputGrace time.Duration
	// CommandFactory and LookPath replace process creation in tests.
	CommandFactory client.CommandFactoryFunc
	LookPath       client.LookPathFunc
	Tracer         trace.Tracer
	Now            func() time.Time
}

// Manager starts, tracks and cancels agent sessions.
type Manager struct {
	cfg      Config
	registry *Registry

	// ctx bounds every spawned process; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. Dispatcher is required.
func NewManager(cfg Config) *Manager {
	if cfg.Sink == nil {
		cfg.Sink = events.NopSink{}
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start spawns the provider's process for req and returns the session id
// without waiting for it to exit. A spawn failure is published as a Failure
// event for the returned id and also returned as *client.ProcessSpawnError.
func (m *Manager) Start(ctx context.Context, providerType client.ClientType, req Request) (string, error) {
	provider, err := client.NewProvider(providerType, m.cfg.Providers[providerType])
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	s := newProcessSession(id, provider, req, m.cfg.Now())
	_, s.span = tracing.Start(m.ctx, m.cfg.Tracer, tracing.SpanSession,
		attribute.String(tracing.AttrSessionID, id),
		attribute.String(tracing.AttrProvider, string(providerType)))

	env := append(append([]string(nil), provider.Env()...), req.Env...)
	proc, err := client.NewSpawnBuilder(m.ctx).
		WithExecutable(provider.Executable(), provider.Args(client.Invocation{Prompt: req.Prompt, ThreadID: req.ThreadID})).
		WithWorkDir(req.Cwd).
		WithEnv(env).
		WithProvider(providerType).
		WithTerminateGrace(m.cfg.TerminateGrace).
		WithOutputGrace(m.cfg.OutputGrace).
		WithCommandFactory(m.cfg.CommandFactory).
		WithLookPath(m.cfg.LookPath).
		Build()
	if err != nil {
		log.ErrorErr(log.CatSession, "Failed to spawn session", err, "session", id, "provider", providerType)
		spawnErr := err
		_ = m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.spawn_failed", Run: func(context.Context) error {
			s.status = client.StatusFailed
			m.publish(s, events.Failure(spawnErr.Error()))
			m.publishStatus(s)
			return nil
		}})
		tracing.End(s.span, err)
		return id, err
	}
	s.proc = proc

	err = m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.register", Run: func(context.Context) error {
		s.setStatus(client.StatusRunning)
		m.registry.Register(s)
		m.publishStatus(s)
		return nil
	}})
	if err != nil {
		proc.Kill()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			drain(proc)
		}()
		tracing.End(s.span, err)
		return "", fmt.Errorf("registering session: %w", err)
	}

	log.Info(log.CatSession, "Session started",
		"session", id, "provider", providerType, "pid", proc.Pid(), "cwd", req.Cwd)

	m.wg.Add(1)
	go m.supervise(s)
	return id, nil
}

// Cancel stops a live session of the given provider; an empty provider
// matches any. It signals the process and returns without waiting for
// exit. Output that arrives afterwards is discarded and no terminal event
// is published. Cancelling twice, cancelling a session that already ended,
// or naming another provider's session returns ErrSessionNotFound.
func (m *Manager) Cancel(ctx context.Context, provider client.ClientType, id string) error {
	return m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.cancel", Run: func(context.Context) error {
		s := m.registry.Get(id)
		if s == nil || (provider != "" && s.provider.Type() != provider) {
			return ErrSessionNotFound
		}
		m.cancelLocked(s)
		return nil
	}})
}

func (m *Manager) cancelLocked(s *ProcessSession) {
	s.setStatus(client.StatusCancelled)
	m.registry.Remove(s.id)
	m.publishStatus(s)

	if err := s.proc.Terminate(); err != nil {
		log.Warn(log.CatSession, "Terminate failed", "session", s.id, "error", err.Error())
	}
	s.span.AddEvent(tracing.EventCancelled)
	tracing.End(s.span, nil)
	log.Info(log.CatSession, "Session cancelled", "session", s.id)
}

// Get returns a copy of a live session.
func (m *Manager) Get(ctx context.Context, id string) (Info, error) {
	var info Info
	err := m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.get", Run: func(context.Context) error {
		s := m.registry.Get(id)
		if s == nil {
			return ErrSessionNotFound
		}
		info = s.info()
		return nil
	}})
	return info, err
}

// List returns copies of every live session, oldest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	var out []Info
	err := m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.list", Run: func(context.Context) error {
		for _, s := range m.registry.List() {
			out = append(out, s.info())
		}
		return nil
	}})
	return out, err
}

// Count returns the number of live sessions.
func (m *Manager) Count(ctx context.Context) (int, error) {
	var n int
	err := m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.count", Run: func(context.Context) error {
		n = m.registry.Count()
		return nil
	}})
	return n, err
}

// Shutdown cancels every live session and waits for their processes to
// exit or ctx to end. When ctx ends first the remaining process groups are
// killed and ctx.Err() is returned without waiting further.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.cfg.Dispatcher.SubmitAndWait(ctx, processor.Command{Name: "session.shutdown", Run: func(context.Context) error {
		for _, s := range m.registry.List() {
			m.cancelLocked(s)
		}
		return nil
	}})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return err
	case <-ctx.Done():
		m.cancel()
		log.Warn(log.CatSession, "Shutdown deadline reached, killed remaining sessions")
		return ctx.Err()
	}
}

// supervise reads both streams to EOF, waits for exit and hands the exit
// status to the dispatcher. After exit a stream ends once it has been idle
// for OutputGrace, so an agent's lingering children cannot postpone the
// terminal event.
func (m *Manager) supervise(s *ProcessSession) {
	defer m.wg.Done()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.pump(s, "stdout", s.proc.Stdout(), m.handleStdout)
	}()
	go func() {
		defer readers.Done()
		m.pump(s, "stderr", s.proc.Stderr(), m.handleStderr)
	}()
	readers.Wait()

	code, waitErr := s.proc.Wait()
	log.Debug(log.CatSession, "Process exited", "session", s.id, "exitCode", code)

	m.enqueue(s, processor.Command{Name: "session.exit", Run: func(context.Context) error {
		m.finish(s, code, waitErr)
		return nil
	}})
}

type lineHandler func(s *ProcessSession, line stream.ParsedLine) (events.SessionEvent, bool)

// pump owns one decoder. Each chunk's completed lines become a single
// dispatcher command, which keeps them in decode order.
func (m *Manager) pump(s *ProcessSession, name string, r io.Reader, handle lineHandler) {
	dec := stream.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.deliver(s, name, dec.Feed(buf[:n]), handle)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug(log.CatSession, "Stream read ended", "session", s.id, "stream", name, "error", err.Error())
			}
			break
		}
	}
	m.deliver(s, name, dec.Flush(), handle)
}

func (m *Manager) deliver(s *ProcessSession, name string, lines []stream.ParsedLine, handle lineHandler) {
	if len(lines) == 0 {
		return
	}
	m.enqueue(s, processor.Command{Name: "session." + name, Run: func(context.Context) error {
		for _, line := range lines {
			// Cancelled or already terminal: late output is dropped.
			if m.registry.Get(s.id) != s {
				return nil
			}
			ev, ok := handle(s, line)
			if !ok {
				continue
			}
			if ev.IsTerminal() {
				m.fail(s, ev)
				return nil
			}
			if ev.Kind == events.KindThreadAssigned {
				s.threadID = ev.ThreadID
				s.span.AddEvent(tracing.EventThreadAssigned)
			}
			m.publish(s, ev)
		}
		return nil
	}})
}

func (m *Manager) enqueue(s *ProcessSession, cmd processor.Command) {
	if err := m.cfg.Dispatcher.Enqueue(m.ctx, cmd); err != nil {
		log.Warn(log.CatSession, "Dropping session output", "session", s.id, "command", cmd.Name, "error", err.Error())
	}
}

func (m *Manager) handleStdout(s *ProcessSession, line stream.ParsedLine) (events.SessionEvent, bool) {
	return s.normalizer.Normalize(line)
}

func (m *Manager) handleStderr(s *ProcessSession, line stream.ParsedLine) (events.SessionEvent, bool) {
	text := strings.TrimSpace(line.Text())
	if text == "" {
		return events.SessionEvent{}, false
	}
	if m.cfg.Classifier.Classify(text) == classify.Error {
		s.failure = &client.ProviderRuntimeError{Provider: s.provider.Type(), Message: text}
		return events.Failure(text), true
	}
	return events.Diagnostic(text), true
}

// fail publishes a terminal Failure and stops the process. The exit that
// follows finds the session gone and publishes nothing.
func (m *Manager) fail(s *ProcessSession, ev events.SessionEvent) {
	s.setStatus(client.StatusFailed)
	m.registry.Remove(s.id)
	m.publish(s, ev)
	m.publishStatus(s)

	if err := s.proc.Terminate(); err != nil {
		log.Debug(log.CatSession, "Terminate after failure", "session", s.id, "error", err.Error())
	}

	err := s.failure
	if err == nil {
		err = &client.ProviderRuntimeError{Provider: s.provider.Type(), Message: ev.Message}
	}
	tracing.End(s.span, err)
	log.Warn(log.CatSession, "Session failed", "session", s.id, "message", ev.Message)
}

func (m *Manager) finish(s *ProcessSession, code int, waitErr error) {
	if m.registry.Get(s.id) != s {
		return
	}
	m.registry.Remove(s.id)

	if waitErr != nil {
		s.setStatus(client.StatusFailed)
		m.publish(s, events.Failure(fmt.Sprintf("waiting for process: %v", waitErr)))
		m.publishStatus(s)
		tracing.End(s.span, waitErr)
		return
	}

	if code == 0 {
		s.setStatus(client.StatusCompleted)
	} else {
		s.setStatus(client.StatusFailed)
	}
	m.publish(s, events.Completed(code))
	m.publishStatus(s)

	s.span.SetAttributes(attribute.Int(tracing.AttrExitCode, code))
	tracing.End(s.span, nil)
	log.Info(log.CatSession, "Session completed", "session", s.id, "exitCode", code)
}

func (m *Manager) publish(s *ProcessSession, ev events.SessionEvent) {
	m.cfg.Sink.Publish(events.Envelope{
		Topic:     events.TopicSession,
		Room:      s.req.Room,
		SourceID:  s.id,
		Provider:  string(s.provider.Type()),
		Timestamp: m.cfg.Now(),
		Data:      ev,
	})
}

func (m *Manager) publishStatus(s *ProcessSession) {
	m.cfg.Sink.Publish(events.Envelope{
		Topic:     events.TopicSessionStatus,
		Room:      s.req.Room,
		SourceID:  s.id,
		Provider:  string(s.provider.Type()),
		Timestamp: m.cfg.Now(),
		Data:      s.info(),
	})
}

func drain(proc *client.Process) {
	var wg sync.WaitGroup
	for _, r := range []io.Reader{proc.Stdout(), proc.Stderr()} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			_, _ = io.Copy(io.Discard, r)
		}(r)
	}
	wg.Wait()
	_, _ = proc.Wait()
}
