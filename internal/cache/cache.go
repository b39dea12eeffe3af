package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
)

// New builds the cache named by the configuration: "memory" for the LRU,
// "redis" for Redis, and Redis with EnableTwoPhase for the LRU-over-Redis
// composition.
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

// TwoPhaseCache layers a local LRU (L1) over Redis (L2). Reads try L1
// first and repopulate it on an L2 hit; writes go to both, with the L1
// entry capped at the shorter local TTL.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache builds the layered cache. LocalTTL of zero selects a 5
// minute L1 lifetime.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get tries L1, falls through to L2, and repopulates L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both layers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetPrediction tries L1, falls through to L2, and repopulates L1 on a hit.
func (c *TwoPhaseCache) GetPrediction(ctx context.Context, tenantID string, predictionID string) (*domain.PredictionResult, error) {
	result, err := c.local.GetPrediction(ctx, tenantID, predictionID)
	if err != nil || result != nil {
		return result, err
	}

	result, err = c.remote.GetPrediction(ctx, tenantID, predictionID)
	if err != nil {
		return nil, err
	}
	if result != nil {
		_ = c.local.SetPrediction(ctx, tenantID, result, c.l1TTL)
	}
	return result, nil
}

// SetPrediction caches the result in both layers.
func (c *TwoPhaseCache) SetPrediction(ctx context.Context, tenantID string, result *domain.PredictionResult, ttl time.Duration) error {
	if err := c.local.SetPrediction(ctx, tenantID, result, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetPrediction(ctx, tenantID, result, ttl)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the L1 size and capacity.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// localTTL caps the L1 lifetime at the entry's own TTL.
func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}
