package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/jobs"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/pubsub"
)

func receive(t *testing.T, ch <-chan pubsub.Event[events.Envelope]) events.Envelope {
	t.Helper()
	select {
	case ev := <-ch:
		return ev.Payload
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for envelope")
		return events.Envelope{}
	}
}

func requireSilent(t *testing.T, ch <-chan pubsub.Event[events.Envelope]) {
	t.Helper()
	select {
	case ev := <-ch:
		require.Failf(t, "unexpected envelope", "%+v", ev.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHub_RoutesByRoom(t *testing.T) {
	hub := NewHub(8)
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx, "a")
	b := hub.Subscribe(ctx, "b")
	all := hub.Subscribe(ctx, "")

	hub.Publish(events.Envelope{Topic: events.TopicJobUpdated, Room: "a", SourceID: "job-1"})

	require.Equal(t, "job-1", receive(t, a).SourceID)
	require.Equal(t, "job-1", receive(t, all).SourceID)
	requireSilent(t, b)
}

func TestHub_EmptyRoomBroadcasts(t *testing.T) {
	hub := NewHub(8)
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx, "a")
	b := hub.Subscribe(ctx, "b")

	hub.Publish(events.Envelope{Topic: events.TopicStaging, SourceID: "my-app"})

	require.Equal(t, "my-app", receive(t, a).SourceID)
	require.Equal(t, "my-app", receive(t, b).SourceID)
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	require.NotPanics(t, func() {
		hub.Publish(events.Envelope{Topic: events.TopicSession, Room: "nobody"})
	})
	require.Zero(t, hub.Rooms())
}

func TestHub_RoomClosesWithLastSubscriber(t *testing.T) {
	hub := NewHub(8)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_ = hub.Subscribe(ctx, "a")
	require.Equal(t, 1, hub.Rooms())

	cancel()
	require.Eventually(t, func() bool { return hub.Rooms() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_MarksLifecycle(t *testing.T) {
	hub := NewHub(8)
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	all := hub.Subscribe(ctx, "")

	cases := []struct {
		env  events.Envelope
		want pubsub.Kind
	}{
		{events.Envelope{Topic: events.TopicJobStarted, Data: jobs.Snapshot{Status: jobs.StatusInProgress}}, pubsub.Opened},
		{events.Envelope{Topic: events.TopicJobUpdated, Data: jobs.Snapshot{Status: jobs.StatusInProgress}}, pubsub.Progress},
		{events.Envelope{Topic: events.TopicJobUpdated, Data: jobs.Snapshot{Status: jobs.StatusCompleted}}, pubsub.Closed},
		{events.Envelope{Topic: events.TopicSession, Data: events.AssistantText("hi")}, pubsub.Progress},
		{events.Envelope{Topic: events.TopicSession, Data: events.Completed(0)}, pubsub.Closed},
		{events.Envelope{Topic: events.TopicStaging, Data: "pushing"}, pubsub.Progress},
	}
	for _, tc := range cases {
		hub.Publish(tc.env)
		select {
		case ev := <-all:
			require.Equal(t, tc.want, ev.Kind, "topic %s", tc.env.Topic)
		case <-time.After(time.Second):
			require.Fail(t, "timeout waiting for envelope")
		}
	}
}
