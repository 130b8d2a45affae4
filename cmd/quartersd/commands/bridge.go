package commands

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/quarters-hq/quarters/event"
	"github.com/quarters-hq/quarters/queue/sqliteq"
)

// jobEvent maps a terminal job state change onto a push event. Jobs whose
// payload carries no identity are background work with no audience.
func jobEvent(job *sqliteq.Job) (event.Event, bool) {
	var eventType string
	switch job.Status {
	case sqliteq.JobStatusCompleted:
		eventType = "job.completed"
	case sqliteq.JobStatusFailed:
		eventType = "job.failed"
	default:
		return event.Event{}, false
	}

	var identity struct {
		TenantID string `json:"tenant_id"`
		UserID   string `json:"user_id"`
	}
	if len(job.Payload) > 0 {
		// A payload that is not JSON simply has no identity to route by.
		_ = json.Unmarshal(job.Payload, &identity)
	}
	if identity.TenantID == "" || identity.UserID == "" {
		return event.Event{}, false
	}

	payload := map[string]any{
		"job_id":   job.ID,
		"job_name": job.Name,
	}
	if job.Error != "" {
		payload["error"] = job.Error
	}

	return event.Event{
		Type:     eventType,
		TenantID: identity.TenantID,
		UserID:   identity.UserID,
		Audience: event.AudiencePersonal,
		Payload:  payload,
	}, true
}

// mediaStagingDir is where media uploads are staged before processing.
func mediaStagingDir() string {
	return filepath.Join(os.TempDir(), "quarters-media")
}
