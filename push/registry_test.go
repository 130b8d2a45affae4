package push

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
)

// stubSession records pushes and can simulate failure or disconnection.
type stubSession struct {
	id string

	mu         sync.Mutex
	received   []Message
	pushErr    error
	connected  bool
	disconnect []func()
}

func newStubSession(id string) *stubSession {
	return &stubSession{id: id, connected: true}
}

func (s *stubSession) ID() string { return s.id }

func (s *stubSession) Push(payload any, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.received = append(s.received, Message{Type: eventType, Payload: payload})
	return nil
}

func (s *stubSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubSession) OnDisconnect(fn func()) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		fn()
		return
	}
	s.disconnect = append(s.disconnect, fn)
	s.mu.Unlock()
}

func (s *stubSession) close() {
	s.mu.Lock()
	s.connected = false
	callbacks := s.disconnect
	s.disconnect = nil
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (s *stubSession) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.received))
	copy(out, s.received)
	return out
}

func TestSendToUserNoListeners(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	// Absence of an audience is not an error.
	assert.False(t, registry.SendToUser("T1", "U1", "hello", "job.completed"))
}

func TestSendToUserReachesAllSessions(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	tab1 := newStubSession("s1")
	tab2 := newStubSession("s2")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, tab1))
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, tab2))

	// Another user's session must not receive the message.
	other := newStubSession("s3")
	require.NoError(t, registry.Connect("T1", "U2", ChannelPersonal, other))

	assert.True(t, registry.SendToUser("T1", "U1", map[string]any{"job_id": "42"}, "job.completed"))

	require.Len(t, tab1.messages(), 1)
	assert.Equal(t, "job.completed", tab1.messages()[0].Type)
	require.Len(t, tab2.messages(), 1)
	assert.Empty(t, other.messages())
}

func TestSendToUserSkipsFailingSession(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	broken := newStubSession("s1")
	broken.pushErr = errors.New("send buffer full")
	healthy := newStubSession("s2")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, broken))
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, healthy))

	// One failed delivery does not fail the send.
	assert.True(t, registry.SendToUser("T1", "U1", "payload", "job.failed"))
	require.Len(t, healthy.messages(), 1)
}

func TestSendToUserAllSessionsFail(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	broken := newStubSession("s1")
	broken.pushErr = errors.New("send buffer full")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, broken))

	assert.False(t, registry.SendToUser("T1", "U1", "payload", "job.failed"))
}

func TestBroadcastToClient(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	u1 := newStubSession("s1")
	u2 := newStubSession("s2")
	require.NoError(t, registry.Connect("T1", "U1", ChannelAnnouncement, u1))
	require.NoError(t, registry.Connect("T1", "U2", ChannelAnnouncement, u2))

	// Personal sessions and other tenants are out of scope.
	personal := newStubSession("s3")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, personal))
	otherTenant := newStubSession("s4")
	require.NoError(t, registry.Connect("T2", "U9", ChannelAnnouncement, otherTenant))

	count := registry.BroadcastToClient("T1", "maintenance window tonight", "announcement.posted")
	assert.Equal(t, 2, count)

	require.Len(t, u1.messages(), 1)
	require.Len(t, u2.messages(), 1)
	assert.Empty(t, personal.messages())
	assert.Empty(t, otherTenant.messages())
}

func TestConnectValidation(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	err := registry.Connect("", "U1", ChannelPersonal, newStubSession("s1"))
	require.Error(t, err)

	err = registry.Connect("T1", "U1", ChannelType("firehose"), newStubSession("s1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDisconnectRemovesSessionAndGroup(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	first := newStubSession("s1")
	second := newStubSession("s2")
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, first))
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, second))
	require.Equal(t, 2, registry.ActiveSessionCount("T1", "U1", ChannelPersonal))

	first.close()
	assert.Equal(t, 1, registry.ActiveSessionCount("T1", "U1", ChannelPersonal))
	assert.True(t, registry.SendToUser("T1", "U1", "still here", "ping"))
	assert.Empty(t, first.messages())

	second.close()
	assert.Equal(t, 0, registry.ActiveSessionCount("T1", "U1", ChannelPersonal))
	assert.Equal(t, 0, registry.TotalActiveConnections())
	assert.False(t, registry.SendToUser("T1", "U1", "anyone?", "ping"))
}

func TestConnectAlreadyClosedSession(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	gone := newStubSession("s1")
	gone.close()

	// The disconnect callback fires during Connect, so the dead session
	// never lingers in its group.
	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, gone))
	assert.Equal(t, 0, registry.ActiveSessionCount("T1", "U1", ChannelPersonal))
	assert.Equal(t, 0, registry.TotalActiveConnections())
	assert.False(t, registry.SendToUser("T1", "U1", "anyone?", "ping"))
}

func TestTotalActiveConnections(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, newStubSession("s1")))
	require.NoError(t, registry.Connect("T1", "U1", ChannelAnnouncement, newStubSession("s2")))
	require.NoError(t, registry.Connect("T2", "U2", ChannelPersonal, newStubSession("s3")))

	assert.Equal(t, 3, registry.TotalActiveConnections())

	registry.Cleanup()
	assert.Equal(t, 0, registry.TotalActiveConnections())
}

func TestConcurrentConnectSendDisconnect(t *testing.T) {
	registry := NewRegistry(zap.NewNop().Sugar())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := newStubSession(fmt.Sprintf("s%d", i))
			userID := fmt.Sprintf("U%d", i%4)
			require.NoError(t, registry.Connect("T1", userID, ChannelPersonal, session))
			registry.SendToUser("T1", userID, i, "tick")
			session.close()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, registry.TotalActiveConnections())
}
