package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "catalog:"

// Cache keeps parsed catalog documents in Redis as JSON.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache. A nil client or non-positive ttl disables it.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

func siteKey() string { return cacheKeyPrefix + "site" }

func storeKey(id string) string { return cacheKeyPrefix + "store:" + id }

// GetJSON decodes the cached document into dst and reports whether it was present.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("catalog cache decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key for the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops the site index and the given store documents.
func (c *Cache) Invalidate(ctx context.Context, storeIDs ...string) error {
	if c == nil {
		return nil
	}
	keys := []string{siteKey()}
	for _, id := range storeIDs {
		keys = append(keys, storeKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
