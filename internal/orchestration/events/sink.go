package events

import (
	"sync"
	"time"
)

// Topic names the stream an Envelope belongs to.
type Topic string

const (
	TopicSession       Topic = "session.event"
	TopicSessionStatus Topic = "session.status"
	TopicJobStarted    Topic = "job.started"
	TopicJobUpdated    Topic = "job.updated"
	TopicStaging       Topic = "staging.status"
)

// Envelope is the unit delivered to a Sink.
type Envelope struct {
	Topic     Topic     `json:"topic"`
	Room      string    `json:"room,omitempty"`
	SourceID  string    `json:"sourceId"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Sink receives pushed events. Publishing to a sink with no live
// subscriber must be a silent no-op.
type Sink interface {
	Publish(env Envelope)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(env Envelope)

func (f SinkFunc) Publish(env Envelope) { f(env) }

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(Envelope) {}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(env Envelope) {
	for _, s := range f {
		if s != nil {
			s.Publish(env)
		}
	}
}

// Recorder is a Sink that keeps everything it receives. Used by tests and
// by the CLI's one-shot commands.
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
	notify    chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Publish(env Envelope) {
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Envelopes returns a copy of everything recorded so far.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// SessionEvents returns the recorded SessionEvents for sourceID in order.
func (r *Recorder) SessionEvents(sourceID string) []SessionEvent {
	var out []SessionEvent
	for _, env := range r.Envelopes() {
		if env.Topic != TopicSession || env.SourceID != sourceID {
			continue
		}
		if ev, ok := env.Data.(SessionEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Notify fires (coalesced) after each Publish.
func (r *Recorder) Notify() <-chan struct{} { return r.notify }
