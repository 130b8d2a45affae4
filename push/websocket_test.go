package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestTransport(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()
	log := zap.NewNop().Sugar()
	registry := NewRegistry(log)
	server := httptest.NewServer(NewTransport(registry, nil, log))
	t.Cleanup(server.Close)
	return registry, server
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTransportDeliversPushedMessages(t *testing.T) {
	registry, server := startTestTransport(t)

	conn := dialWS(t, server, "tenant_id=T1&user_id=U1&channel=personal")

	require.Eventually(t, func() bool {
		return registry.ActiveSessionCount("T1", "U1", ChannelPersonal) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, registry.SendToUser("T1", "U1", map[string]any{"job_id": "42"}, "job.completed"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "job.completed", msg.Type)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", payload["job_id"])
}

func TestTransportDefaultsToPersonalChannel(t *testing.T) {
	registry, server := startTestTransport(t)

	dialWS(t, server, "tenant_id=T1&user_id=U1")

	require.Eventually(t, func() bool {
		return registry.ActiveSessionCount("T1", "U1", ChannelPersonal) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransportRejectsIncompleteIdentity(t *testing.T) {
	_, server := startTestTransport(t)

	for _, query := range []string{
		"user_id=U1",
		"tenant_id=T1",
		"tenant_id=T1&user_id=U1&channel=firehose",
	} {
		resp, err := http.Get(server.URL + "/?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestTransportRemovesSessionOnClose(t *testing.T) {
	registry, server := startTestTransport(t)

	conn := dialWS(t, server, "tenant_id=T1&user_id=U1&channel=announcement")

	require.Eventually(t, func() bool {
		return registry.TotalActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	require.Eventually(t, func() bool {
		return registry.TotalActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectAfterSessionClosed(t *testing.T) {
	log := zap.NewNop().Sugar()
	registry := NewRegistry(log)

	// Upgrade without registering, the way Transport does before Connect
	// runs, so the peer can drop inside that window.
	sessions := make(chan *WebSocketSession, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sessions <- NewWebSocketSession(conn, log)
	}))
	t.Cleanup(server.Close)

	conn := dialWS(t, server, "")
	session := <-sessions

	conn.Close()
	require.Eventually(t, func() bool {
		return !session.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, registry.Connect("T1", "U1", ChannelPersonal, session))

	assert.Equal(t, 0, registry.ActiveSessionCount("T1", "U1", ChannelPersonal))
	assert.Equal(t, 0, registry.TotalActiveConnections())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.quarters.example"})

	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(request("")))
	assert.True(t, check(request("https://app.quarters.example")))
	assert.False(t, check(request("https://evil.example")))

	// Empty allow-list falls back to localhost only.
	localhost := originChecker(nil)
	assert.True(t, localhost(request("http://localhost:3000")))
	assert.False(t, localhost(request("https://app.quarters.example")))
}
