package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chartind/internal/indicator"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultLayoutTTL keeps a cached layout for a day; SQLite holds the durable
// copy.
const DefaultLayoutTTL = 24 * time.Hour

// LayoutCache stores the latest layout snapshot under one key.
type LayoutCache struct {
	client goredis.Cmdable
	key    string
	ttl    time.Duration
	cb     *CircuitBreaker
}

// NewLayoutCache returns a cache writing to key. cb may be nil.
func NewLayoutCache(client goredis.Cmdable, key string, ttl time.Duration, cb *CircuitBreaker) *LayoutCache {
	if ttl <= 0 {
		ttl = DefaultLayoutTTL
	}
	return &LayoutCache{client: client, key: key, ttl: ttl, cb: cb}
}

// Key returns the cache key.
func (c *LayoutCache) Key() string { return c.key }

// Save writes layout with the cache TTL.
func (c *LayoutCache) Save(ctx context.Context, layout *indicator.Layout) error {
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshal layout: %w", err)
	}
	return c.do(func() error {
		return c.client.Set(ctx, c.key, data, c.ttl).Err()
	})
}

// Load reads the cached layout, or nil when there is none.
func (c *LayoutCache) Load(ctx context.Context) (*indicator.Layout, error) {
	var data []byte
	err := c.do(func() error {
		b, err := c.client.Get(ctx, c.key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get layout %s: %w", c.key, err)
	}
	if data == nil {
		return nil, nil
	}

	var layout indicator.Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("unmarshal layout: %w", err)
	}
	return &layout, nil
}

func (c *LayoutCache) do(fn func() error) error {
	if c.cb == nil {
		return fn()
	}
	return c.cb.Execute(fn)
}
