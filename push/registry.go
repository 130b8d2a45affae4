package push

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
)

// Registry tracks live sessions grouped by tenant, user, and channel.
// A single RWMutex guards the whole map; connect and disconnect are rare
// next to sends, so finer locking buys nothing here.
type Registry struct {
	mu     sync.RWMutex
	groups map[string][]Session
	logger *zap.SugaredLogger
}

// NewRegistry creates an empty session registry.
func NewRegistry(log *zap.SugaredLogger) *Registry {
	return &Registry{
		groups: make(map[string][]Session),
		logger: log,
	}
}

// Connect adds a session to its group and arranges removal when the
// session disconnects.
func (r *Registry) Connect(tenantID, userID string, channel ChannelType, session Session) error {
	if tenantID == "" || userID == "" {
		return errors.NewInvalidRequestError("session requires tenant and user ids")
	}
	if !channel.Valid() {
		return errors.NewInvalidRequestError("unknown channel type %q", channel)
	}

	key := groupKey(tenantID, userID, channel)

	r.mu.Lock()
	r.groups[key] = append(r.groups[key], session)
	r.mu.Unlock()

	session.OnDisconnect(func() {
		r.remove(key, session)
	})

	r.logger.Infow("Session connected",
		"session_id", session.ID(),
		"tenant_id", tenantID,
		"user_id", userID,
		"channel", channel)
	return nil
}

// remove drops a session from its group. The group itself is deleted when
// its last session leaves.
func (r *Registry) remove(key string, session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.groups[key]
	for i, s := range sessions {
		if s == session {
			sessions = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}

	if len(sessions) == 0 {
		delete(r.groups, key)
	} else {
		r.groups[key] = sessions
	}

	r.logger.Infow("Session disconnected",
		"session_id", session.ID(),
		"group", key,
		"remaining", len(sessions))
}

// SendToUser pushes to every personal session of the given user. Returns
// true when at least one session received the message; false with no
// error when nobody is listening. A session that fails to accept the push
// is logged and skipped, it does not stop delivery to its siblings.
func (r *Registry) SendToUser(tenantID, userID string, payload any, eventType string) bool {
	sessions := r.snapshot(groupKey(tenantID, userID, ChannelPersonal))
	if len(sessions) == 0 {
		return false
	}

	delivered := 0
	for _, session := range sessions {
		if !session.IsConnected() {
			continue
		}
		if err := session.Push(payload, eventType); err != nil {
			r.logger.Warnw("Push to session failed",
				"session_id", session.ID(),
				"tenant_id", tenantID,
				"user_id", userID,
				"event_type", eventType,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered > 0
}

// BroadcastToClient pushes to every announcement session of the tenant,
// across all of its users. Returns the number of sessions reached.
func (r *Registry) BroadcastToClient(tenantID string, payload any, eventType string) int {
	prefix := tenantID + ":"

	r.mu.RLock()
	var sessions []Session
	for key, group := range r.groups {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, ":"+string(ChannelAnnouncement)) {
			sessions = append(sessions, group...)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, session := range sessions {
		if !session.IsConnected() {
			continue
		}
		if err := session.Push(payload, eventType); err != nil {
			r.logger.Warnw("Broadcast to session failed",
				"session_id", session.ID(),
				"tenant_id", tenantID,
				"event_type", eventType,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// ActiveSessionCount returns how many live sessions one user has on a
// channel. Sessions mid-disconnect are not counted.
func (r *Registry) ActiveSessionCount(tenantID, userID string, channel ChannelType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return countLive(r.groups[groupKey(tenantID, userID, channel)])
}

// TotalActiveConnections returns the live session count across all groups.
func (r *Registry) TotalActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, group := range r.groups {
		total += countLive(group)
	}
	return total
}

func countLive(group []Session) int {
	n := 0
	for _, s := range group {
		if s.IsConnected() {
			n++
		}
	}
	return n
}

// snapshot copies a group under the read lock so sends happen outside it.
func (r *Registry) snapshot(key string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group := r.groups[key]
	if len(group) == 0 {
		return nil
	}
	out := make([]Session, len(group))
	copy(out, group)
	return out
}

// Cleanup drops every group. Sessions are not closed here; transports own
// their connection lifecycle.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, group := range r.groups {
		count += len(group)
	}
	r.groups = make(map[string][]Session)

	r.logger.Infow("Session registry cleared", "dropped_sessions", count)
}
