package sqliteq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
)

// DefaultJobTimeout bounds job execution when neither the job nor the
// caller specifies one.
const DefaultJobTimeout = 5 * time.Minute

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           // number of concurrent workers
	PollInterval time.Duration // how often idle workers check for new jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Second,
	}
}

// WorkerPool polls the backend for queued jobs and executes them through
// the handler registry. It implements queue.Worker.
type WorkerPool struct {
	name     string
	backend  *Backend
	handlers *HandlerRegistry
	config   WorkerPoolConfig
	logger   *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewWorkerPool creates a worker pool for the named queue.
func NewWorkerPool(name string, backend *Backend, handlers *HandlerRegistry, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &WorkerPool{
		name:      name,
		backend:   backend,
		handlers:  handlers,
		config:    cfg,
		logger:    log,
		parentCtx: context.Background(),
	}
}

// Name returns the worker's queue name.
func (p *WorkerPool) Name() string {
	return p.name
}

// Start launches the worker goroutines. Starting a running pool is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warnw("Worker pool already running", "worker", p.name)
		return
	}

	p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	p.running = true

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	p.logger.Infow("Worker pool started",
		"worker", p.name,
		"workers", p.config.Workers,
		"poll_interval", p.config.PollInterval)
}

// Stop cancels all workers and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Infow("Worker pool stopped", "worker", p.name)
}

// run is one worker's poll loop.
func (p *WorkerPool) run(workerID int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// Drain the queue before going back to sleep.
			for {
				if !p.processOne(workerID) {
					break
				}
				select {
				case <-p.ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// processOne dequeues and executes a single job.
// Returns false when no job was available.
func (p *WorkerPool) processOne(workerID int) bool {
	job, err := p.backend.Dequeue()
	if err != nil {
		p.logger.Warnw("Dequeue failed", "worker", p.name, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	p.logger.Infow("Job started",
		"worker", p.name,
		"worker_id", workerID,
		"job_id", job.ID,
		"job_name", job.Name)

	if err := p.execute(job); err != nil {
		if failErr := p.backend.FailJob(job, err); failErr != nil {
			p.logger.Errorw("Failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		p.logger.Warnw("Job failed",
			"worker", p.name,
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err)
		return true
	}

	if err := p.backend.CompleteJob(job); err != nil {
		p.logger.Errorw("Failed to record job completion", "job_id", job.ID, "error", err)
	}

	duration := time.Duration(0)
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration = job.CompletedAt.Sub(*job.StartedAt)
	}
	p.logger.Infow("Job completed",
		"worker", p.name,
		"job_id", job.ID,
		"job_name", job.Name,
		"duration", duration.Round(time.Millisecond))

	return true
}

// execute runs the job through its handler with the job's timeout applied.
// The timeout is enforced here, by the backend, not by whoever scheduled
// the job.
func (p *WorkerPool) execute(job *Job) error {
	handler := p.handlers.Get(job.Name)
	if handler == nil {
		return errors.Newf("no handler registered for job %q", job.Name)
	}

	timeout := job.Timeout()
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	if err := handler.Execute(ctx, job); err != nil {
		return errors.Wrapf(err, "handler %q", job.Name)
	}
	return nil
}
