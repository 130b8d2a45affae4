// Package push delivers real-time messages to connected user sessions,
// grouped by tenant, user, and channel type.
package push

import "fmt"

// ChannelType selects the delivery channel a session listens on.
type ChannelType string

const (
	// ChannelPersonal carries messages addressed to a single user.
	ChannelPersonal ChannelType = "personal"

	// ChannelAnnouncement carries tenant-wide announcements.
	ChannelAnnouncement ChannelType = "announcement"
)

// Valid reports whether the channel type is one this package routes.
func (c ChannelType) Valid() bool {
	return c == ChannelPersonal || c == ChannelAnnouncement
}

// Session is one live connection. Push must be safe to call concurrently
// and must not block the caller; implementations report an error when the
// message cannot be handed to the connection. OnDisconnect callbacks fire
// exactly once, immediately when the session is already closed.
type Session interface {
	ID() string
	Push(payload any, eventType string) error
	IsConnected() bool
	OnDisconnect(fn func())
}

// Message is the wire envelope every session delivery is wrapped in.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// groupKey identifies one session group. Tenant and user ids are UUIDs
// and must not contain ":", or the tenant prefix match in
// BroadcastToClient would cross tenant boundaries.
func groupKey(tenantID, userID string, channel ChannelType) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, userID, channel)
}
