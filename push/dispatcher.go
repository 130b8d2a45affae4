package push

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/event"
)

// Dispatcher routes bus events to connected sessions. Personal events go
// to the target user's sessions, announcements fan out across the tenant.
// Delivery to nobody is not an error; the event simply had no audience.
type Dispatcher struct {
	bus      *event.Bus
	registry *Registry
	logger   *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher between the bus and the registry.
func NewDispatcher(bus *event.Bus, registry *Registry, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		registry: registry,
		logger:   log,
	}
}

// Start subscribes to the bus and begins routing.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch := d.bus.Subscribe()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.bus.Unsubscribe(ch)
			close(ch)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				d.route(evt)
			}
		}
	}()

	d.logger.Infow("Push dispatcher started")
}

// Stop unsubscribes and waits for the routing goroutine to exit.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.logger.Infow("Push dispatcher stopped")
}

// route delivers one event to its audience.
func (d *Dispatcher) route(evt event.Event) {
	switch evt.Audience {
	case event.AudiencePersonal:
		if evt.UserID == "" {
			d.logger.Warnw("Personal event without a user id dropped",
				"event_type", evt.Type,
				"tenant_id", evt.TenantID)
			return
		}
		delivered := d.registry.SendToUser(evt.TenantID, evt.UserID, evt.Payload, evt.Type)
		d.logger.Debugw("Personal event routed",
			"event_type", evt.Type,
			"tenant_id", evt.TenantID,
			"user_id", evt.UserID,
			"delivered", delivered)

	case event.AudienceAnnouncement:
		count := d.registry.BroadcastToClient(evt.TenantID, evt.Payload, evt.Type)
		d.logger.Debugw("Announcement routed",
			"event_type", evt.Type,
			"tenant_id", evt.TenantID,
			"sessions", count)

	default:
		d.logger.Warnw("Event with unknown audience dropped",
			"event_type", evt.Type,
			"audience", evt.Audience)
	}
}
