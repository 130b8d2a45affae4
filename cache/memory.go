package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend with real TTL semantics.
// Expiry is checked lazily on access, so no background sweeper is needed.
// The clock is injectable for TTL tests.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]memoryEntry
	sets   map[string]memorySet
	now    func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string]memoryEntry),
		sets:   make(map[string]memorySet),
		now:    time.Now,
	}
}

// SetClock overrides the time source (test support only).
func (m *MemoryBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryBackend) expired(at time.Time) bool {
	return !at.IsZero() && m.now().After(at)
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = entry
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(entry.expiresAt) {
		delete(m.values, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	delete(m.sets, key)
	return nil
}

func (m *MemoryBackend) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.liveSetLocked(key)
	if !ok {
		set = memorySet{members: make(map[string]struct{})}
	}
	for _, member := range members {
		set.members[member] = struct{}{}
	}
	m.sets[key] = set
	return nil
}

func (m *MemoryBackend) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.liveSetLocked(key)
	if !ok {
		return 0, nil
	}

	var removed int64
	for _, member := range members {
		if _, exists := set.members[member]; exists {
			delete(set.members, member)
			removed++
		}
	}
	if len(set.members) == 0 {
		delete(m.sets, key)
	} else {
		m.sets[key] = set
	}
	return removed, nil
}

func (m *MemoryBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.liveSetLocked(key)
	if !ok {
		return []string{}, nil
	}

	members := make([]string, 0, len(set.members))
	for member := range set.members {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryBackend) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.liveSetLocked(key)
	if !ok {
		return 0, nil
	}
	return int64(len(set.members)), nil
}

func (m *MemoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := m.now().Add(ttl)
	if entry, ok := m.values[key]; ok {
		entry.expiresAt = deadline
		m.values[key] = entry
	}
	if set, ok := m.sets[key]; ok {
		set.expiresAt = deadline
		m.sets[key] = set
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// liveSetLocked returns the set under key, dropping it first if expired.
// REQUIRES: m.mu must be held by caller.
func (m *MemoryBackend) liveSetLocked(key string) (memorySet, bool) {
	set, ok := m.sets[key]
	if !ok {
		return memorySet{}, false
	}
	if m.expired(set.expiresAt) {
		delete(m.sets, key)
		return memorySet{}, false
	}
	return set, true
}
