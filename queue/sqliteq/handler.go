package sqliteq

import (
	"context"
	"sync"

	"github.com/quarters-hq/quarters/errors"
)

// Handler executes one kind of job. Domain packages implement this and
// register by name; the queue infrastructure stays decoupled from what the
// jobs actually do.
type Handler interface {
	// Execute runs the job. Handlers decode their own payload from
	// job.Payload and must honor ctx cancellation: the worker pool applies
	// the job's execution timeout through ctx.
	Execute(ctx context.Context, job *Job) error

	// Name returns the handler name jobs are routed by,
	// e.g. "maintenance.lease-expiry-check".
	Name() string
}

// HandlerRegistry manages job handlers by name.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under its name.
// Registering the same name twice is a programming error.
func (r *HandlerRegistry) Register(handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		return errors.Wrapf(errors.ErrConflict, "handler already registered for name %q", name)
	}
	r.handlers[name] = handler
	return nil
}

// Get retrieves the handler for a name, or nil if none is registered.
func (r *HandlerRegistry) Get(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
