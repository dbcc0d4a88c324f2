package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetResult retrieves a cached scoring result by transaction ID.
	// Returns nil, nil on a miss.
	GetResult(ctx context.Context, txID string) (*ScoringResult, error)

	// SetResult caches a scoring result keyed by its transaction ID.
	SetResult(ctx context.Context, result *ScoringResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" koanf:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" koanf:"local_max_size"`
	LocalTTL     time.Duration `json:"localTTL" koanf:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" koanf:"redis_addr"`
	RedisPassword string `json:"-" koanf:"redis_password"`
	RedisDB       int    `json:"redisDB" koanf:"redis_db"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `json:"enableTwoPhase" koanf:"enable_two_phase"`

	// ResultTTL is how long scoring results stay cached.
	ResultTTL time.Duration `json:"resultTTL" koanf:"result_ttl"`
}
