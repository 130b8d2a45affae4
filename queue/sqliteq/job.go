// Package sqliteq is the embedded, single-process queue backend.
//
// It implements the queue.Queue contract over SQLite: one-shot jobs are rows
// polled by a worker pool, repeating schedules are rows advanced by a ticker.
// Production deployments may swap in an external broker behind the same
// contract; this backend serves dev and worker topologies.
package sqliteq

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one unit of work persisted in the jobs table.
type Job struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"` // handler name, e.g. "maintenance.lease-expiry-check"
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         JobStatus       `json:"status"`
	Error          string          `json:"error,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for the given handler name.
func NewJob(name string, payload json.RawMessage, timeout time.Duration) *Job {
	now := time.Now()
	return &Job{
		ID:             uuid.NewString(),
		Name:           name,
		Payload:        payload,
		Status:         JobStatusQueued,
		TimeoutSeconds: int(timeout / time.Second),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Timeout returns the execution bound, or zero when the backend default applies.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Repeatable is one repeating-schedule registration persisted in the
// repeatable_jobs table. ID is the caller-supplied dedupe key, so enqueueing
// the same registration after a restart upserts instead of duplicating.
type Repeatable struct {
	ID             string
	Name           string
	Cron           string
	Timezone       string
	Payload        json.RawMessage
	TimeoutSeconds int
	NextRunAt      time.Time
	LastRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
