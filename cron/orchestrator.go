package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/queue"
)

// RegistrationPrefix namespaces the queue dedupe ids this package owns.
const RegistrationPrefix = "cron:"

// Options configure orchestrator defaults applied when a job declaration
// leaves them out.
type Options struct {
	DefaultTimezone string        // applied when Job.Timezone is empty (default: UTC)
	DefaultTimeout  time.Duration // applied when Job.Timeout is zero (default: 5m)
}

// Orchestrator collects cron job declarations from providers and mirrors
// the enabled ones into the queue backend as repeating registrations.
type Orchestrator struct {
	queue  queue.Queue
	opts   Options
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	jobs map[string]*Job // by Name, first registration wins
}

// NewOrchestrator creates an orchestrator over the given queue.
func NewOrchestrator(q queue.Queue, opts Options, log *zap.SugaredLogger) *Orchestrator {
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = "UTC"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		queue:  q,
		opts:   opts,
		logger: log,
		jobs:   make(map[string]*Job),
	}
}

// Register collects declarations from the given providers and schedules
// every enabled job. A malformed declaration is a configuration error: it
// is logged, the job is dropped, and registration continues with the rest.
// The first such error is returned so startup wiring can fail loud.
func (o *Orchestrator) Register(ctx context.Context, providers ...Provider) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var firstErr error
	for _, provider := range providers {
		for _, job := range provider.CronJobs() {
			job := job
			if err := o.registerLocked(ctx, &job); err != nil {
				o.logger.Errorw("Cron job registration failed",
					"job", job.Name,
					"service", job.Service,
					"error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// registerLocked validates and records one declaration, scheduling it if
// enabled. REQUIRES: o.mu held.
func (o *Orchestrator) registerLocked(ctx context.Context, job *Job) error {
	if err := validate(job); err != nil {
		return err
	}

	if existing, ok := o.jobs[job.Name]; ok {
		err := errors.Wrapf(errors.ErrConflict, "cron job %q already registered", job.Name)
		err = errors.WithDetail(err, fmt.Sprintf("Existing schedule: %s", existing.Schedule))
		err = errors.WithDetail(err, fmt.Sprintf("Rejected schedule: %s", job.Schedule))
		return err
	}

	if job.Timezone == "" {
		job.Timezone = o.opts.DefaultTimezone
	}
	if job.Timeout <= 0 {
		job.Timeout = o.opts.DefaultTimeout
	}

	o.jobs[job.Name] = job

	if !job.Enabled {
		o.logger.Infow("Cron job registered disabled",
			"job", job.Name,
			"schedule", job.Schedule)
		return nil
	}

	if err := o.schedule(ctx, job); err != nil {
		return err
	}

	o.logger.Infow("Cron job scheduled",
		"job", job.Name,
		"handler", job.Handler,
		"schedule", job.Schedule,
		"timezone", job.Timezone)
	return nil
}

// validate checks the declaration itself, before any backend call.
func validate(job *Job) error {
	if job.Name == "" {
		return errors.NewInvalidRequestError("cron job declared without a name")
	}
	if job.Schedule == "" {
		return errors.Newf("cron job %q declared without a schedule", job.Name)
	}
	if job.Handler == "" {
		return errors.Newf("cron job %q declared without a handler", job.Name)
	}
	if _, err := robcron.ParseStandard(job.Schedule); err != nil {
		return errors.Wrapf(err, "cron job %q has an invalid schedule %q", job.Name, job.Schedule)
	}
	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			return errors.Wrapf(err, "cron job %q has an invalid timezone %q", job.Name, job.Timezone)
		}
	}
	return nil
}

// schedule mirrors one job into the queue backend. The dedupe id makes the
// call idempotent across restarts.
func (o *Orchestrator) schedule(ctx context.Context, job *Job) error {
	_, err := o.queue.Enqueue(ctx, job.Name, job.Payload, queue.EnqueueOptions{
		JobID:   RegistrationPrefix + job.Name,
		Timeout: job.Timeout,
		Repeat: &queue.Repeat{
			Cron:     job.Schedule,
			Timezone: job.Timezone,
		},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule cron job %q", job.Name)
	}
	return nil
}

// Enable schedules a registered job that is currently disabled. Enabling
// an already-enabled job is a no-op.
func (o *Orchestrator) Enable(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[name]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "%q", name)
	}
	if job.Enabled {
		o.logger.Warnw("Cron job already enabled", "job", name)
		return nil
	}

	if err := o.schedule(ctx, job); err != nil {
		return err
	}

	job.Enabled = true
	o.logger.Infow("Cron job enabled", "job", name, "schedule", job.Schedule)
	return nil
}

// Disable removes a registered job's repeating registration. Disabling an
// already-disabled job is a no-op.
func (o *Orchestrator) Disable(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[name]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "%q", name)
	}
	if !job.Enabled {
		o.logger.Warnw("Cron job already disabled", "job", name)
		return nil
	}

	if err := o.queue.RemoveRepeatable(ctx, job.Name, job.Schedule); err != nil {
		return errors.Wrapf(err, "failed to unschedule cron job %q", name)
	}

	job.Enabled = false
	o.logger.Infow("Cron job disabled", "job", name)
	return nil
}

// Jobs returns a snapshot of all registered declarations, sorted by name.
func (o *Orchestrator) Jobs() []Job {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextExecutions reports the upcoming run of every live registration that
// belongs to a registered job, soonest first. Registrations owned by other
// subsystems are ignored.
func (o *Orchestrator) NextExecutions(ctx context.Context) ([]NextExecution, error) {
	repeatables, err := o.queue.ListRepeatable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list repeating registrations")
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]NextExecution, 0, len(repeatables))
	for _, r := range repeatables {
		job, ok := o.jobs[r.Name]
		if !ok || r.ID != RegistrationPrefix+job.Name {
			continue
		}
		out = append(out, NextExecution{Job: *job, NextRun: r.Next})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out, nil
}
