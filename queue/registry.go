package queue

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
)

// Known queue and worker names. API and worker processes share this code but
// resolve disjoint subsets, which is why resolution is lazy.
var (
	KnownQueues  = []string{"jobs", "maintenance"}
	KnownWorkers = []string{"jobs", "maintenance"}
)

// Provider constructs concrete queue and worker handles by name.
// Construction may open network connections, so the registry calls it at
// most once per name.
type Provider interface {
	Queue(name string) (Queue, error)
	Worker(name string) (Worker, error)
}

// Registry resolves and memoizes queue and worker handles on first use.
// The contract is "no duplicate initialization side effects", not pointer
// identity: a reset registry may re-resolve through the provider.
type Registry struct {
	provider Provider
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	queues  map[string]Queue
	workers map[string]Worker
}

// NewRegistry creates a lazy registry over the given provider.
func NewRegistry(provider Provider, log *zap.SugaredLogger) *Registry {
	return &Registry{
		provider: provider,
		logger:   log,
		queues:   make(map[string]Queue),
		workers:  make(map[string]Worker),
	}
}

// GetQueue resolves the named queue, memoizing the handle and logging once
// on first resolution.
func (r *Registry) GetQueue(name string) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q, nil
	}

	q, err := r.provider.Queue(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve queue %q", name)
	}

	r.queues[name] = q
	r.logger.Infow("Queue resolved", "queue", name)
	return q, nil
}

// GetWorker resolves the named worker, symmetric to GetQueue.
func (r *Registry) GetWorker(name string) (Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[name]; ok {
		return w, nil
	}

	w, err := r.provider.Worker(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve worker %q", name)
	}

	r.workers[name] = w
	r.logger.Infow("Worker resolved", "worker", name)
	return w, nil
}

// InitializeAll eagerly resolves the fixed known queue and worker lists.
// Individual failures are logged and do not abort the rest; used for
// single-process/dev topologies where everything runs in one binary.
func (r *Registry) InitializeAll() {
	for _, name := range KnownQueues {
		if _, err := r.GetQueue(name); err != nil {
			r.logger.Warnw("Failed to initialize queue", "queue", name, "error", err)
		}
	}
	for _, name := range KnownWorkers {
		if _, err := r.GetWorker(name); err != nil {
			r.logger.Warnw("Failed to initialize worker", "worker", name, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Infow("Queue/worker warm-up complete",
		"queues", len(r.queues),
		"workers", len(r.workers))
}

// Reset clears resolution bookkeeping (test support only).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = make(map[string]Queue)
	r.workers = make(map[string]Worker)
}
