// Package queue defines the contract for the durable queue backend and
// provides lazy, name-keyed resolution of queue and worker handles.
//
// The execution engine behind a Queue may be an external broker or the
// embedded single-process backend in queue/sqliteq; callers only see this
// contract.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Repeat describes a recurring schedule for an enqueued job.
type Repeat struct {
	Cron     string // cron expression, e.g. "0 0 * * *"
	Timezone string // IANA zone name, empty means UTC
}

// EnqueueOptions control job identity, schedule, and execution limits.
type EnqueueOptions struct {
	// JobID, when set, fixes the job's identity instead of letting the
	// backend issue one. For repeating registrations it doubles as a
	// dedupe key: registering again with the same id replaces the
	// schedule. A one-shot enqueue with an id already in the jobs table
	// is an error.
	JobID string

	// Timeout bounds a single execution. Zero means the backend default.
	Timeout time.Duration

	// Repeat, when non-nil, registers a repeating schedule instead of a
	// one-shot job.
	Repeat *Repeat
}

// RepeatableJob is one entry from the backend's repeating-job introspection.
type RepeatableJob struct {
	ID   string    // the dedupe id the registration was created with
	Name string    // job name
	Cron string    // schedule expression
	Next time.Time // next scheduled run
}

// Queue accepts named jobs with payloads and supports repeating schedules.
type Queue interface {
	// Enqueue submits a job and returns the backend-issued job id.
	Enqueue(ctx context.Context, jobName string, payload json.RawMessage, opts EnqueueOptions) (string, error)

	// ListRepeatable returns all live repeating registrations.
	ListRepeatable(ctx context.Context) ([]RepeatableJob, error)

	// RemoveRepeatable removes the repeating registration matching
	// (name, schedule). Removing a missing registration is not an error.
	RemoveRepeatable(ctx context.Context, name, schedule string) error
}

// Worker is a handle on a named worker process attached to a queue.
type Worker interface {
	Name() string
	Start()
	Stop()
}
