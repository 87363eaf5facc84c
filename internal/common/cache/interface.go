package cache

import (
	"context"
	"time"
)

// Cache defines the key-value operations the coordinator relies on.
// This abstraction allows switching between different cache implementations
// (Redis, local memory) without changing business logic.
type Cache interface {
	// Get retrieves the value for the given key.
	// Returns an empty string (and nil error) when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation).
	// Returns true if the key was set, false if it already existed.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of given keys that exist.
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr increments the integer value of a key by 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Ping verifies the cache connection is alive.
	Ping(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}
