package sqliteq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/queue"
)

type funcHandler struct {
	name string
	fn   func(ctx context.Context, job *Job) error
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Execute(ctx context.Context, job *Job) error {
	return h.fn(ctx, job)
}

func startTestPool(t *testing.T, backend *Backend, handlers *HandlerRegistry) *WorkerPool {
	t.Helper()
	pool := NewWorkerPool("jobs", backend, handlers, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop().Sugar())
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

func waitForStatus(t *testing.T, backend *Backend, jobID string, want JobStatus) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = backend.Store().GetJob(jobID)
		return err == nil && job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestWorkerPoolExecutesJob(t *testing.T) {
	backend := newTestBackend(t)

	var executed atomic.Int32
	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.Register(&funcHandler{
		name: "csv.import",
		fn: func(ctx context.Context, job *Job) error {
			executed.Add(1)
			return nil
		},
	}))

	startTestPool(t, backend, handlers)

	id, err := backend.Enqueue(context.Background(), "csv.import", []byte(`{}`), queue.EnqueueOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, backend, id, JobStatusCompleted)
	assert.Equal(t, int32(1), executed.Load())
	assert.NotNil(t, job.CompletedAt)
}

func TestWorkerPoolRecordsHandlerFailure(t *testing.T) {
	backend := newTestBackend(t)

	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.Register(&funcHandler{
		name: "doc.process",
		fn: func(ctx context.Context, job *Job) error {
			return errors.New("malformed document")
		},
	}))

	startTestPool(t, backend, handlers)

	id, err := backend.Enqueue(context.Background(), "doc.process", nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, backend, id, JobStatusFailed)
	assert.Contains(t, job.Error, "malformed document")
}

func TestWorkerPoolFailsUnhandledJob(t *testing.T) {
	backend := newTestBackend(t)
	startTestPool(t, backend, NewHandlerRegistry())

	id, err := backend.Enqueue(context.Background(), "unknown.job", nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	job := waitForStatus(t, backend, id, JobStatusFailed)
	assert.Contains(t, job.Error, "no handler registered")
}

func TestWorkerPoolEnforcesJobTimeout(t *testing.T) {
	backend := newTestBackend(t)

	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.Register(&funcHandler{
		name: "media.upload",
		fn: func(ctx context.Context, job *Job) error {
			// Blocks until the per-job timeout fires.
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	startTestPool(t, backend, handlers)

	id, err := backend.Enqueue(context.Background(), "media.upload", nil, queue.EnqueueOptions{
		Timeout: 1 * time.Second,
	})
	require.NoError(t, err)

	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = backend.Store().GetJob(id)
		return err == nil && job.Status == JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, job.Error, context.DeadlineExceeded.Error())
}

func TestWorkerPoolStartStopIdempotent(t *testing.T) {
	backend := newTestBackend(t)
	pool := NewWorkerPool("jobs", backend, NewHandlerRegistry(), DefaultWorkerPoolConfig(), zap.NewNop().Sugar())

	pool.Start()
	pool.Start() // second start is a no-op
	pool.Stop()
	pool.Stop() // second stop is a no-op
}
