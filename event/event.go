// Package event carries domain events between background work and the
// real-time delivery layer.
package event

// Audience selects who an event is delivered to.
type Audience string

const (
	// AudiencePersonal targets a single user's sessions.
	AudiencePersonal Audience = "personal"

	// AudienceAnnouncement targets every announcement listener of a tenant.
	AudienceAnnouncement Audience = "announcement"
)

// Event is one domain occurrence routed by tenant and, for personal
// events, by user.
type Event struct {
	Type     string   `json:"type"`
	TenantID string   `json:"tenant_id"`
	UserID   string   `json:"user_id,omitempty"` // required for personal audience
	Audience Audience `json:"audience"`
	Payload  any      `json:"payload,omitempty"`
}
