package push

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer; inbound traffic is liveness
	// only so this stays small
	maxMessageSize = 4096

	// Outbound buffer per session; Push fails once this is full
	sendBufferSize = 64
)

// WebSocketSession is a Session backed by one gorilla connection.
type WebSocketSession struct {
	id     string
	conn   *websocket.Conn
	send   chan Message
	logger *zap.SugaredLogger

	closeOnce sync.Once
	done      chan struct{}

	mu            sync.Mutex
	onDisconnects []func()
}

// NewWebSocketSession wraps an upgraded connection and starts its pumps.
func NewWebSocketSession(conn *websocket.Conn, log *zap.SugaredLogger) *WebSocketSession {
	s := &WebSocketSession{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
		done:   make(chan struct{}),
		logger: log,
	}
	go s.writePump()
	go s.readPump()
	return s
}

// ID returns the session's connection id.
func (s *WebSocketSession) ID() string {
	return s.id
}

// IsConnected reports whether the connection is still live.
func (s *WebSocketSession) IsConnected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Push hands a message to the write pump. It never blocks: a closed
// session or a full send buffer is an error for this one message.
func (s *WebSocketSession) Push(payload any, eventType string) error {
	if !s.IsConnected() {
		return errors.Newf("session %s is closed", s.id)
	}

	select {
	case s.send <- Message{Type: eventType, Payload: payload}:
		return nil
	case <-s.done:
		return errors.Newf("session %s is closed", s.id)
	default:
		return errors.Newf("session %s send buffer full", s.id)
	}
}

// OnDisconnect registers a callback invoked once when the session closes.
// The pumps start before registration reaches the session registry, so the
// connection can already be gone by the time a callback arrives; in that
// case it fires immediately instead of never.
func (s *WebSocketSession) OnDisconnect(fn func()) {
	s.mu.Lock()
	select {
	case <-s.done:
		// Close already ran or is draining the list; fn is not appended,
		// so it runs exactly once, here.
		s.mu.Unlock()
		fn()
		return
	default:
	}
	s.onDisconnects = append(s.onDisconnects, fn)
	s.mu.Unlock()
}

// Close tears the session down and fires disconnect callbacks exactly once.
func (s *WebSocketSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()

		s.mu.Lock()
		callbacks := s.onDisconnects
		s.onDisconnects = nil
		s.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	})
}

// writePump serializes outbound messages and keeps the connection alive
// with periodic pings.
func (s *WebSocketSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Warnw("WebSocket write error",
					"session_id", s.id,
					"event_type", msg.Type,
					"error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists for liveness: it refreshes the read deadline on pongs
// and notices peer closure. Inbound payloads are discarded.
func (s *WebSocketSession) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Warnw("WebSocket read error",
					"session_id", s.id,
					"error", err)
			}
			return
		}
	}
}

// Transport upgrades HTTP requests into registered sessions.
type Transport struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewTransport creates the upgrade handler. allowedOrigins are matched by
// prefix; an empty list admits only localhost.
func NewTransport(registry *Registry, allowedOrigins []string, log *zap.SugaredLogger) *Transport {
	return &Transport{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log,
	}
}

// originChecker validates the Origin header against configured prefixes.
// Requests without an Origin header (non-browser clients) are allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			return strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "https://localhost")
		}
		for _, prefix := range allowed {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the request and registers the resulting session.
// Identity arrives in query parameters; authenticating them happens
// upstream of this handler.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	userID := r.URL.Query().Get("user_id")
	channel := ChannelType(r.URL.Query().Get("channel"))
	if channel == "" {
		channel = ChannelPersonal
	}

	if tenantID == "" || userID == "" || !channel.Valid() {
		http.Error(w, "tenant_id, user_id and a valid channel are required", http.StatusBadRequest)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		t.logger.Warnw("WebSocket upgrade failed",
			"tenant_id", tenantID,
			"user_id", userID,
			"error", err)
		return
	}

	session := NewWebSocketSession(conn, t.logger)
	if err := t.registry.Connect(tenantID, userID, channel, session); err != nil {
		t.logger.Errorw("Session registration failed",
			"session_id", session.ID(),
			"error", err)
		session.Close()
	}
}
