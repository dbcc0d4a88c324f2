package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

type byteCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func resultKey(txID string) string {
	return "result:" + txID
}

func getResult(ctx context.Context, c byteCache, txID string) (*domain.ScoringResult, error) {
	data, err := c.Get(ctx, resultKey(txID))
	if err != nil || data == nil {
		return nil, err
	}

	var r domain.ScoringResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func setResult(ctx context.Context, c byteCache, result *domain.ScoringResult, ttl time.Duration) error {
	if result == nil || result.TransactionID == "" {
		return fmt.Errorf("result with a transaction ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, resultKey(result.TransactionID), data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// L1 never outlives L2
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetResult retrieves a cached scoring result.
func (c *TwoPhaseCache) GetResult(ctx context.Context, txID string) (*domain.ScoringResult, error) {
	return getResult(ctx, c, txID)
}

// SetResult caches a scoring result in both L1 and L2.
func (c *TwoPhaseCache) SetResult(ctx context.Context, result *domain.ScoringResult, ttl time.Duration) error {
	return setResult(ctx, c, result, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
