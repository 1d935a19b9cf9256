package segmentation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "lifecycle:segments:active"

// Cache is a bounded-TTL Redis cache for the active segment list. It is
// advisory only: any Redis failure is treated as a miss and evaluation falls
// through to the store, never the other way around.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached segment list, or ok=false on miss or error.
func (c *Cache) Get(ctx context.Context) ([]Segment, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, false
	}
	return segments, true
}

// Set stores the segment list for the cache TTL. Errors are ignored.
func (c *Cache) Set(ctx context.Context, segments []Segment) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey, data, c.ttl)
}

// Invalidate drops the cached list, e.g. after a segment definition change.
func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, cacheKey)
}
