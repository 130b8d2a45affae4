// Package cache defines the key/value backend used by the job registry.
//
// The contract is a TTL-bearing key/value store with set-membership
// operations. Production deployments use Redis; tests and single-process
// dev topologies use the in-memory implementation.
package cache

import (
	"context"
	"time"

	"github.com/quarters-hq/quarters/errors"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.Wrap(errors.ErrNotFound, "cache key")

// Backend is the minimal cache surface required by the job registry.
type Backend interface {
	// Set stores value under key with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SAdd adds members to the set stored under key, creating it if absent.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set under key. Returns the number removed.
	SRem(ctx context.Context, key string, members ...string) (int64, error)

	// SMembers returns all members of the set under key. A missing set
	// yields an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SCard returns the cardinality of the set under key (0 if absent).
	SCard(ctx context.Context, key string) (int64, error)

	// Expire refreshes the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Close releases backend resources.
	Close() error
}
