package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	msgs, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	waitFor(t, func() bool { return hub.SubscriberCount() == 1 })

	hub.Publish("invocation.completed", map[string]interface{}{"requestId": "r1", "tier": "MINI"})

	select {
	case msg := <-msgs:
		require.Equal(t, "invocation.completed", msg.Event)
		require.NotZero(t, msg.SentAt)
		payload, ok := msg.Payload.(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "r1", payload["requestId"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	msgs, unsubscribe := hub.Subscribe()
	waitFor(t, func() bool { return hub.SubscriberCount() == 1 })

	unsubscribe()
	waitFor(t, func() bool { return hub.SubscriberCount() == 0 })

	_, open := <-msgs
	require.False(t, open)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil, nil)
	// Run loop intentionally not started: the broadcast buffer fills up
	// and further publishes must drop instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Publish("budget.alert", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a saturated hub")
	}
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	msgs, _ := hub.Subscribe()
	waitFor(t, func() bool { return hub.SubscriberCount() == 1 })

	cancel()
	waitFor(t, func() bool {
		select {
		case _, open := <-msgs:
			return !open
		default:
			return false
		}
	})
}
