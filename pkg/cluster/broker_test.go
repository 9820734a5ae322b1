package cluster

import (
	"testing"
	"time"

	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEventBrokerPublishSubscribe(t *testing.T) {
	b := newEventBroker(4)
	b.start()
	defer b.stop()

	sub := b.subscribe()
	b.publish(types.ReplicationEvent{ID: "ev-1", Type: types.EventObjectCreated, Bucket: "bkt", Key: "k"})

	select {
	case ev := <-sub:
		require.Equal(t, "ev-1", ev.ID)
		require.False(t, ev.Timestamp.IsZero(), "publish should stamp a zero Timestamp")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestEventBrokerPreservesExplicitTimestamp(t *testing.T) {
	b := newEventBroker(4)
	b.start()
	defer b.stop()

	sub := b.subscribe()
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.publish(types.ReplicationEvent{ID: "ev-2", Timestamp: want})

	ev := <-sub
	require.True(t, want.Equal(ev.Timestamp))
}

func TestEventBrokerFanOutToMultipleSubscribers(t *testing.T) {
	b := newEventBroker(4)
	b.start()
	defer b.stop()

	a := b.subscribe()
	c := b.subscribe()
	b.publish(types.ReplicationEvent{ID: "ev-3"})

	for _, sub := range []chan types.ReplicationEvent{a, c} {
		select {
		case ev := <-sub:
			require.Equal(t, "ev-3", ev.ID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast event")
		}
	}
}

func TestEventBrokerDropsWhenSubscriberQueueFull(t *testing.T) {
	b := newEventBroker(4)
	b.start()
	defer b.stop()

	sub := b.subscribe()
	// The per-subscriber channel has its own fixed capacity; publishing
	// well beyond it must never block the broker's dispatch loop.
	for i := 0; i < 300; i++ {
		b.publish(types.ReplicationEvent{ID: "flood"})
	}
	require.Eventually(t, func() bool {
		return len(sub) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestEventBrokerDepthReflectsQueuedEvents(t *testing.T) {
	b := newEventBroker(4)
	// Not started: published events sit in eventCh until a consumer runs.
	b.publish(types.ReplicationEvent{ID: "ev-4"})
	require.Equal(t, 1, b.depth())
}
