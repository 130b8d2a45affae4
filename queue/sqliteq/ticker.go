package sqliteq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/queue"
)

// TickerConfig contains configuration for the repeatable-job ticker
type TickerConfig struct {
	Interval time.Duration // how often to check for due schedules (default: 1 second)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
	}
}

// Ticker advances repeating schedules: at each tick it finds due
// registrations, enqueues a one-shot job for each, and moves next_run_at
// forward according to the cron expression.
type Ticker struct {
	backend  *Backend
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// NewTicker creates a ticker over the embedded backend.
func NewTicker(backend *Backend, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), backend, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, backend *Backend, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		backend:  backend,
		interval: cfg.Interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   log,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Schedule ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Schedule ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			if err := t.CheckDue(tickTime); err != nil {
				t.logger.Warnw("Schedule tick error", "error", err)
			}
		}
	}
}

// CheckDue finds due repeating registrations and fires each one.
// Exported so tests can drive ticks without waiting on wall-clock time.
func (t *Ticker) CheckDue(now time.Time) error {
	due, err := t.backend.Store().ListRepeatableDue(now)
	if err != nil {
		return errors.Wrap(err, "failed to list due schedules")
	}

	for _, r := range due {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fire(r, now); err != nil {
			t.logger.Errorw("Failed to fire scheduled job",
				"registration_id", r.ID,
				"job_name", r.Name,
				"error", err)
			// Continue with other schedules even if one fails
			continue
		}
	}

	return nil
}

// fire enqueues one execution of a repeating registration and advances it.
func (t *Ticker) fire(r *Repeatable, now time.Time) error {
	// Compute the next run first: a registration that cannot advance must
	// not enqueue, or it would fire again on every tick.
	next, err := NextRun(r.Cron, r.Timezone, now)
	if err != nil {
		return errors.Wrap(err, "failed to compute next run")
	}

	jobID, err := t.backend.Enqueue(t.ctx, r.Name, r.Payload, queue.EnqueueOptions{
		Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return errors.Wrap(err, "failed to enqueue scheduled job")
	}

	if err := t.backend.Store().AdvanceRepeatable(r.ID, now, next); err != nil {
		return err
	}

	t.logger.Infow("Scheduled job fired",
		"registration_id", r.ID,
		"job_name", r.Name,
		"job_id", jobID,
		"next_run_at", next.Format(time.RFC3339))

	return nil
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
