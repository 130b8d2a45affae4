package sqliteq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/queue"
)

const (
	// MaxJobsLimit caps how many jobs a single status query returns
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Backend implements queue.Queue over a SQLite store.
type Backend struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job // channels notified on job state changes
}

// NewBackend creates the embedded queue backend and its schema.
func NewBackend(db *sql.DB) (*Backend, error) {
	store := NewStore(db)
	if err := store.InitSchema(); err != nil {
		return nil, err
	}
	return &Backend{
		store:       store,
		subscribers: make([]chan *Job, 0),
	}, nil
}

// Store exposes the underlying store to the worker pool and ticker.
func (b *Backend) Store() *Store {
	return b.store
}

// DB exposes the database handle so co-located stores can share the file.
func (b *Backend) DB() *sql.DB {
	return b.store.db
}

// Enqueue submits a job. With opts.Repeat set it registers (or refreshes) a
// repeating schedule keyed by opts.JobID; otherwise it inserts a one-shot job.
func (b *Backend) Enqueue(ctx context.Context, jobName string, payload json.RawMessage, opts queue.EnqueueOptions) (string, error) {
	if opts.Repeat != nil {
		return b.enqueueRepeatable(jobName, payload, opts)
	}

	job := NewJob(jobName, payload, opts.Timeout)
	if opts.JobID != "" {
		job.ID = opts.JobID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Job name: %s", jobName))
		return "", err
	}

	b.notifySubscribersLocked(job)
	return job.ID, nil
}

func (b *Backend) enqueueRepeatable(jobName string, payload json.RawMessage, opts queue.EnqueueOptions) (string, error) {
	if opts.JobID == "" {
		return "", errors.NewInvalidRequestError("repeating jobs require a dedupe JobID")
	}

	tz := opts.Repeat.Timezone
	if tz == "" {
		tz = "UTC"
	}

	next, err := NextRun(opts.Repeat.Cron, tz, time.Now())
	if err != nil {
		return "", errors.Wrapf(err, "invalid schedule for %q", jobName)
	}

	now := time.Now()
	r := &Repeatable{
		ID:             opts.JobID,
		Name:           jobName,
		Cron:           opts.Repeat.Cron,
		Timezone:       tz,
		Payload:        payload,
		TimeoutSeconds: int(opts.Timeout / time.Second),
		NextRunAt:      next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.UpsertRepeatable(r); err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Registration ID: %s", r.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Schedule: %s", r.Cron))
		return "", err
	}

	return r.ID, nil
}

// ListRepeatable returns all live repeating registrations.
func (b *Backend) ListRepeatable(ctx context.Context) ([]queue.RepeatableJob, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.store.ListRepeatable()
	if err != nil {
		return nil, err
	}

	out := make([]queue.RepeatableJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, queue.RepeatableJob{
			ID:   r.ID,
			Name: r.Name,
			Cron: r.Cron,
			Next: r.NextRunAt,
		})
	}
	return out, nil
}

// RemoveRepeatable removes the registration matching (name, schedule).
// Removing a missing registration is not an error.
func (b *Backend) RemoveRepeatable(ctx context.Context, name, schedule string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.store.DeleteRepeatable(name, schedule)
	return err
}

// Dequeue gets the oldest queued job and marks it as running.
// Returns nil when no job is available.
func (b *Backend) Dequeue() (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobs, err := b.store.ListJobsByStatus(JobStatusQueued, 1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queued jobs")
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	job := jobs[0]
	job.Start()

	if err := b.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as running")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return nil, err
	}

	b.notifySubscribersLocked(job)
	return job, nil
}

// CompleteJob marks a job as completed.
func (b *Backend) CompleteJob(job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job.Complete()
	if err := b.store.UpdateJob(job); err != nil {
		return errors.Wrapf(err, "failed to complete job %s", job.ID)
	}

	b.notifySubscribersLocked(job)
	return nil
}

// FailJob marks a job as failed with an error.
func (b *Backend) FailJob(job *Job, jobErr error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job.Fail(jobErr)
	if err := b.store.UpdateJob(job); err != nil {
		err = errors.Wrapf(err, "failed to mark job %s as failed", job.ID)
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
		return err
	}

	b.notifySubscribersLocked(job)
	return nil
}

// Subscribe returns a channel that receives job state changes.
// The caller is responsible for calling Unsubscribe when done; the channel
// is buffered so notification never blocks the backend.
func (b *Backend) Subscribe() chan *Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed here;
// callers close it after unsubscribing to avoid double-close panics.
func (b *Backend) Unsubscribe(ch chan *Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribersLocked sends job updates to all subscribers.
// REQUIRES: b.mu must be held by caller. Non-blocking send: a full
// subscriber misses the update rather than stalling the backend.
func (b *Backend) notifySubscribersLocked(job *Job) {
	for _, ch := range b.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}

// Stats summarizes job counts by status.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// GetStats returns queue statistics.
func (b *Backend) GetStats() (*Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := &Stats{}
	for _, status := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed} {
		jobs, err := b.store.ListJobsByStatus(status, MaxJobsLimit)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count %s jobs", status)
		}
		switch status {
		case JobStatusQueued:
			stats.Queued = len(jobs)
		case JobStatusRunning:
			stats.Running = len(jobs)
		case JobStatusCompleted:
			stats.Completed = len(jobs)
		case JobStatusFailed:
			stats.Failed = len(jobs)
		}
	}
	return stats, nil
}

// NextRun computes the next fire time for a cron expression in the given
// timezone, strictly after the reference time.
func NextRun(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid cron expression %q", expr)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timezone %q", tz)
	}

	return sched.Next(after.In(loc)), nil
}
