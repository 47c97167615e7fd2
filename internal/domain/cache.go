package domain

import (
	"context"
	"time"
)

// Cache stores serialized table payloads for the serving layer so repeated
// reads of a finished dataset do not re-marshal it. Local LRU by default,
// Redis when the API runs alongside other consumers.
// All methods are scoped by runID.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, runID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, runID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, runID string, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU settings
	LocalMaxSize int
	LocalTTL     int // seconds

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase layers the local LRU in front of Redis.
	EnableTwoPhase bool
}
