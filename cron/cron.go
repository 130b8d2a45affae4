// Package cron declares recurring jobs and keeps the queue backend's
// repeating registrations in sync with those declarations.
package cron

import (
	"encoding/json"
	"time"

	"github.com/quarters-hq/quarters/errors"
)

// ErrJobNotFound is returned when an operation names a cron job that was
// never registered.
var ErrJobNotFound = errors.Wrap(errors.ErrNotFound, "cron job")

// Job declares one recurring job. Name doubles as the routing key the
// worker side resolves its handler by, and as the dedupe key for the
// queue registration ("cron:" + Name).
type Job struct {
	Name     string          // unique job name, required
	Schedule string          // cron expression, required
	Timezone string          // IANA zone, empty means the orchestrator default
	Handler  string          // handler identifier, required
	Service  string          // owning service, for logs and reports
	Enabled  bool            // whether the job is scheduled at registration
	Timeout  time.Duration   // per-execution bound, zero means the default
	Payload  json.RawMessage // passed through to every execution
}

// Provider is implemented by services that declare cron jobs.
type Provider interface {
	CronJobs() []Job
}

// NextExecution pairs a registered job with its next scheduled run.
type NextExecution struct {
	Job     Job
	NextRun time.Time
}
