package sqliteq

import (
	"database/sql"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/quarters-hq/quarters/errors"
	"github.com/quarters-hq/quarters/queue"
)

// Provider resolves named queues and workers onto embedded SQLite
// backends. Each queue name gets its own database file derived from the
// base path, so the "jobs" and "maintenance" queues never contend for
// each other's rows.
type Provider struct {
	basePath string
	poolCfg  WorkerPoolConfig
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	dbs      map[string]*sql.DB
	backends map[string]*Backend
	handlers map[string]*HandlerRegistry
}

// NewProvider creates a provider rooted at the given database path.
// ":memory:" gives every queue its own private in-memory database.
func NewProvider(basePath string, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *Provider {
	return &Provider{
		basePath: basePath,
		poolCfg:  poolCfg,
		logger:   log,
		dbs:      make(map[string]*sql.DB),
		backends: make(map[string]*Backend),
		handlers: make(map[string]*HandlerRegistry),
	}
}

// Handlers returns the handler registry for a named queue, creating it on
// first use. Handlers must be registered here before the queue's worker
// starts.
func (p *Provider) Handlers(name string) *HandlerRegistry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handlers[name]; ok {
		return h
	}
	h := NewHandlerRegistry()
	p.handlers[name] = h
	return h
}

// Queue implements queue.Provider.
func (p *Provider) Queue(name string) (queue.Queue, error) {
	return p.Backend(name)
}

// Worker implements queue.Provider.
func (p *Provider) Worker(name string) (queue.Worker, error) {
	backend, err := p.Backend(name)
	if err != nil {
		return nil, err
	}
	return NewWorkerPool(name, backend, p.Handlers(name), p.poolCfg, p.logger), nil
}

// Backend resolves the embedded backend for a named queue.
func (p *Provider) Backend(name string) (*Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.backends[name]; ok {
		return b, nil
	}

	path := databasePath(p.basePath, name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open queue database %s", path)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure queue database")
	}

	backend, err := NewBackend(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	p.dbs[name] = db
	p.backends[name] = backend
	p.logger.Infow("Queue backend opened", "queue", name, "path", path)
	return backend, nil
}

// Close closes every database the provider opened.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close queue database %q", name)
		}
	}
	p.dbs = make(map[string]*sql.DB)
	p.backends = make(map[string]*Backend)
	return firstErr
}

// databasePath derives one queue's database file from the base path:
// "data/quarters.db" becomes "data/quarters-jobs.db".
func databasePath(base, name string) string {
	if base == ":memory:" {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + name + ext
}
