package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces all Kestrel keys on a shared Redis instance.
const keyPrefix = "kestrel:"

// RedisCache is the Pro tier cache, also serving as L2 in the two-phase
// cache. Keys carry the kestrel prefix plus the tenant, so deployments can
// share a Redis without colliding.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection up front.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get returns the cached value, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetPrediction returns a cached prediction result, or nil on a miss.
func (c *RedisCache) GetPrediction(ctx context.Context, tenantID string, predictionID string) (*domain.PredictionResult, error) {
	data, err := c.Get(ctx, tenantID, predictionKey(predictionID))
	if err != nil || data == nil {
		return nil, err
	}

	var result domain.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetPrediction caches a prediction result under its prediction ID.
func (c *RedisCache) SetPrediction(ctx context.Context, tenantID string, result *domain.PredictionResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, predictionKey(result.PredictionID), data, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(tenantID, key string) string {
	return keyPrefix + tenantID + ":" + key
}
