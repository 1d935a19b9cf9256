package segmentation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, ttl), mr
}

func TestCache_RoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx)
	assert.False(t, ok, "cold cache misses")

	segments := []Segment{{
		ID:       uuid.New(),
		Name:     "High value",
		IsActive: true,
		Rules:    []Rule{{Field: "total_revenue", Operator: OpGreaterThanEqual, Value: float64(10000)}},
	}}
	cache.Set(ctx, segments)

	got, ok := cache.Get(ctx)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, segments[0].ID, got[0].ID)
	assert.Equal(t, OpGreaterThanEqual, got[0].Rules[0].Operator)
}

func TestCache_TTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, 30*time.Second)
	ctx := context.Background()

	cache.Set(ctx, []Segment{{ID: uuid.New(), Name: "VIP"}})
	_, ok := cache.Get(ctx)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	_, ok = cache.Get(ctx)
	assert.False(t, ok, "entries expire after the TTL")
}

func TestCache_Invalidate(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, []Segment{{ID: uuid.New(), Name: "VIP"}})
	cache.Invalidate(ctx)
	_, ok := cache.Get(ctx)
	assert.False(t, ok)
}

func TestCache_NilSafe(t *testing.T) {
	// Engines run without Redis in degraded mode; every call must be a
	// no-op miss rather than a panic.
	var cache *Cache
	ctx := context.Background()

	_, ok := cache.Get(ctx)
	assert.False(t, ok)
	cache.Set(ctx, []Segment{{Name: "VIP"}})
	cache.Invalidate(ctx)
}
