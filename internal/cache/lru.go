// Package cache provides the prediction result caches: an in-process LRU
// for the Community tier, Redis for Pro, and a two-phase composition of
// both.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU with per-entry TTL. It backs the Community
// tier and serves as L1 in the two-phase cache. Entries are namespaced by
// tenant, so one tenant can never read another's results.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	index    map[string]*list.Element
	recency  *list.List
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates an LRU bounded at capacity entries. Zero or negative
// selects the default of 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		recency:  list.New(),
	}
}

// Get returns the cached value, or nil on a miss. Expired entries are
// dropped on read.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[tenantKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value with the given TTL, evicting the least recently used
// entries when over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := tenantKey(tenantID, key)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[fullKey]; ok {
		c.recency.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	c.index[fullKey] = c.recency.PushFront(&lruEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})

	for c.recency.Len() > c.capacity {
		if oldest := c.recency.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[tenantKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetPrediction returns a cached prediction result, or nil on a miss.
func (c *LRUCache) GetPrediction(ctx context.Context, tenantID string, predictionID string) (*domain.PredictionResult, error) {
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
func (c *LRUCache) SetPrediction(ctx context.Context, tenantID string, result *domain.PredictionResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, predictionKey(result.PredictionID), data, ttl)
}

// Ping always succeeds; the LRU has no external dependency.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.recency = list.New()
	return nil
}

// Stats reports current size and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recency.Len(), c.capacity
}

// evict removes an element; callers hold c.mu.
func (c *LRUCache) evict(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*lruEntry).key)
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func predictionKey(predictionID string) string {
	return "pred:" + predictionID
}
