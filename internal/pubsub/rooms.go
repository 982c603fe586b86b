package pubsub

import (
	"context"
	"sync"
)

type room[T any] struct {
	broker *Broker[T]
	refs   int
}

// Rooms keys brokers by a client-chosen room identifier. A room exists only
// while it has at least one subscriber, so publishing to an unknown room is
// dropped silently.
type Rooms[T any] struct {
	mu         sync.Mutex
	rooms      map[string]*room[T]
	bufferSize int
}

// NewRooms creates an empty room set whose brokers use bufferSize.
func NewRooms[T any](bufferSize int) *Rooms[T] {
	return &Rooms[T]{
		rooms:      make(map[string]*room[T]),
		bufferSize: bufferSize,
	}
}

// Subscribe joins name until ctx is cancelled.
func (r *Rooms[T]) Subscribe(ctx context.Context, name string) <-chan Event[T] {
	r.mu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		rm = &room[T]{broker: NewBrokerWithBuffer[T](r.bufferSize)}
		r.rooms[name] = rm
	}
	rm.refs++
	ch := rm.broker.Subscribe(ctx)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.leave(name, rm)
	}()
	return ch
}

// leave drops the room once its last subscriber is gone.
func (r *Rooms[T]) leave(name string, rm *room[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm.refs--
	if rm.refs > 0 {
		return
	}
	rm.broker.Close()
	if current, ok := r.rooms[name]; ok && current == rm {
		delete(r.rooms, name)
	}
}

// Publish sends payload to everyone in name. Returns false when the room
// has no subscribers.
func (r *Rooms[T]) Publish(name string, kind Kind, payload T) bool {
	r.mu.Lock()
	rm, ok := r.rooms[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rm.broker.Publish(kind, payload)
	return true
}

// Broadcast sends payload to every room.
func (r *Rooms[T]) Broadcast(kind Kind, payload T) {
	r.mu.Lock()
	brokers := make([]*Broker[T], 0, len(r.rooms))
	for _, rm := range r.rooms {
		brokers = append(brokers, rm.broker)
	}
	r.mu.Unlock()

	for _, b := range brokers {
		b.Publish(kind, payload)
	}
}

// Len returns the number of live rooms.
func (r *Rooms[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close shuts down every room.
func (r *Rooms[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, rm := range r.rooms {
		rm.broker.Close()
		delete(r.rooms, name)
	}
}
