package api

import (
	"context"

	"github.com/zjrosen/relay/internal/jobs"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/pubsub"
)

// DefaultHubBuffer is the per-subscriber channel size. Slow subscribers
// drop events instead of blocking publishers.
const DefaultHubBuffer = 256

// Hub implements events.Sink by routing envelopes to client rooms.
// An envelope with an empty Room is broadcast to every room. Subscribing
// with an empty room observes every envelope.
type Hub struct {
	rooms *pubsub.Rooms[events.Envelope]
	all   *pubsub.Broker[events.Envelope]
}

var _ events.Sink = (*Hub)(nil)

// NewHub creates a hub whose subscribers buffer up to bufferSize events.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultHubBuffer
	}
	return &Hub{
		rooms: pubsub.NewRooms[events.Envelope](bufferSize),
		all:   pubsub.NewBrokerWithBuffer[events.Envelope](bufferSize),
	}
}

// Publish delivers env to its room, or to every room when Room is empty.
func (h *Hub) Publish(env events.Envelope) {
	kind := lifecycle(env)

	h.all.Publish(kind, env)
	if env.Room == "" {
		h.rooms.Broadcast(kind, env)
		return
	}
	h.rooms.Publish(env.Room, kind, env)
}

// lifecycle marks job starts as Opened and terminal session events and job
// snapshots as Closed. Everything else, staging included, is Progress.
func lifecycle(env events.Envelope) pubsub.Kind {
	switch data := env.Data.(type) {
	case events.SessionEvent:
		if data.IsTerminal() {
			return pubsub.Closed
		}
	case jobs.Snapshot:
		if env.Topic == events.TopicJobStarted {
			return pubsub.Opened
		}
		if data.Status.IsTerminal() {
			return pubsub.Closed
		}
	}
	return pubsub.Progress
}

// Subscribe streams envelopes for room until ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, room string) <-chan pubsub.Event[events.Envelope] {
	if room == "" {
		return h.all.Subscribe(ctx)
	}
	return h.rooms.Subscribe(ctx, room)
}

// Rooms returns the number of rooms with at least one subscriber.
func (h *Hub) Rooms() int { return h.rooms.Len() }

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.rooms.Close()
	h.all.Close()
}
