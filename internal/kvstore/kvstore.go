// Package kvstore provides the TTL-capable key-value store used for session
// snapshots, conversation context, and the fast tier of the translation
// cache. Redis backs production; an in-memory implementation backs tests and
// redis-less development.
package kvstore

import (
	"context"
	"time"
)

// Store is the fast-tier key-value contract. Values are opaque strings
// (callers serialize to JSON). Every write carries an explicit TTL.
type Store interface {
	// Get returns the value and whether the key exists. A missing key is
	// not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetTTL writes a value with the given TTL, replacing any previous
	// value and resetting the expiry.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes all keys matching a glob-style pattern and
	// returns the number removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// New selects a backend: Redis when addr is non-empty, in-memory otherwise.
func New(ctx context.Context, addr, password string, db int) (Store, error) {
	if addr == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(ctx, addr, password, db)
}
