package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())

	first := bus.Subscribe()
	second := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(Event{
		Type:     "job.completed",
		TenantID: "T1",
		UserID:   "U1",
		Audience: AudiencePersonal,
	})

	for _, ch := range []chan Event{first, second} {
		select {
		case evt := <-ch:
			assert.Equal(t, "job.completed", evt.Type)
			assert.Equal(t, "T1", evt.TenantID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())
	ch := bus.Subscribe()

	// Fill past the buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < SubscriberBufferSize+10; i++ {
			bus.Publish(Event{Type: "tick", TenantID: "T1", Audience: AudienceAnnouncement})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Len(t, ch, SubscriberBufferSize)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop().Sugar())
	ch := bus.Subscribe()

	bus.Unsubscribe(ch)
	require.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(Event{Type: "job.failed", TenantID: "T1"})
	assert.Empty(t, ch)
}
