package push

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/event"
)

func startTestDispatcher(t *testing.T) (*event.Bus, *Registry) {
	t.Helper()
	log := zap.NewNop().Sugar()
	bus := event.NewBus(log)
	registry := NewRegistry(log)
	dispatcher := NewDispatcher(bus, registry, log)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)
	return bus, registry
}

func TestDispatcherRoutesPersonalEvent(t *testing.T) {
	bus, registry := startTestDispatcher(t)

	session := newStubSession("s1")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, session))

	bus.Publish(event.Event{
		Type:     "job.completed",
		TenantID: "T1",
		UserID:   "U1",
		Audience: event.AudiencePersonal,
		Payload:  map[string]any{"job_id": "42"},
	})

	require.Eventually(t, func() bool {
		return len(session.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "job.completed", session.messages()[0].Type)
}

func TestDispatcherRoutesAnnouncement(t *testing.T) {
	bus, registry := startTestDispatcher(t)

	first := newStubSession("s1")
	second := newStubSession("s2")
	require.NoError(t, registry.Connect("T1", "U1", ChannelAnnouncement, first))
	require.NoError(t, registry.Connect("T1", "U2", ChannelAnnouncement, second))

	bus.Publish(event.Event{
		Type:     "announcement.posted",
		TenantID: "T1",
		Audience: event.AudienceAnnouncement,
		Payload:  "rent statements are ready",
	})

	require.Eventually(t, func() bool {
		return len(first.messages()) == 1 && len(second.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherDropsPersonalEventWithoutUser(t *testing.T) {
	bus, registry := startTestDispatcher(t)

	session := newStubSession("s1")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, session))

	bus.Publish(event.Event{
		Type:     "job.completed",
		TenantID: "T1",
		Audience: event.AudiencePersonal,
	})
	// A well-formed event afterwards still goes through.
	bus.Publish(event.Event{
		Type:     "job.completed",
		TenantID: "T1",
		UserID:   "U1",
		Audience: event.AudiencePersonal,
	})

	require.Eventually(t, func() bool {
		return len(session.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
