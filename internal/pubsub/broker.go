// Package pubsub provides the in-process fan-out used for log streaming and
// for push delivery of session, job and staging events to client rooms.
package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 64

// Kind places an event in the lifecycle of the source that produced it.
type Kind string

const (
	// Opened is the first event of a source, such as a job starting.
	Opened Kind = "opened"
	// Progress is any intermediate event. Log lines are always Progress.
	Progress Kind = "progress"
	// Closed is the last event a source will publish.
	Closed Kind = "closed"
)

// Event is one delivery: the payload, its lifecycle kind and when the
// broker accepted it.
type Event[T any] struct {
	Kind      Kind
	Payload   T
	Timestamp time.Time
}

// Broker fans out published events to every live subscriber.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]]struct{}
	closed     bool
	bufferSize int
	now        func() time.Time
}

// NewBroker creates a broker with the default per-subscriber buffer (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker with a custom per-subscriber buffer.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Broker[T]{
		subs:       make(map[chan Event[T]]struct{}),
		bufferSize: size,
		now:        time.Now,
	}
}

// Subscribe registers a subscriber. The returned channel is closed when ctx
// is cancelled or the broker is closed, whichever comes first.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan Event[T], b.bufferSize)
	if b.closed {
		close(sub)
		return sub
	}
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub)
	}()

	return sub
}

func (b *Broker[T]) unsubscribe(sub chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub)
}

// Publish delivers payload to all subscribers without blocking.
// It is a no-op when nobody is subscribed or the broker is closed.
func (b *Broker[T]) Publish(kind Kind, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || len(b.subs) == 0 {
		return
	}

	event := Event[T]{Kind: kind, Payload: payload, Timestamp: b.now()}
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// Close closes every subscriber channel. Safe to call more than once.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub)
	}
	b.subs = map[chan Event[T]]struct{}{}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
