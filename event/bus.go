package event

import (
	"sync"

	"go.uber.org/zap"
)

// SubscriberBufferSize is the buffer size for subscriber channels.
const SubscriberBufferSize = 100

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, and the drop is logged.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	logger      *zap.SugaredLogger
}

// NewBus creates an event bus.
func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{
		subscribers: make([]chan Event, 0),
		logger:      log,
	}
}

// Subscribe returns a channel that receives published events. The caller
// must Unsubscribe when done and closes the channel itself afterwards.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, SubscriberBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed here.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Warnw("Event dropped, subscriber buffer full",
				"event_type", evt.Type,
				"tenant_id", evt.TenantID)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
