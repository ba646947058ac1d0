// Package cache is a namespaced TTL cache used for cache-aside lookups.
package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// LoadFunc produces a value on a cache miss.
type LoadFunc func(ctx context.Context) (any, error)

// Cache keeps one go-cache instance per namespace so a namespace can be
// dropped as a whole. Entries past their TTL are never returned.
type Cache struct {
	ttl    time.Duration
	mu     sync.Mutex
	spaces map[string]*gocache.Cache
	group  singleflight.Group
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:    ttl,
		spaces: make(map[string]*gocache.Cache),
	}
}

func (c *Cache) space(namespace string) *gocache.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.spaces[namespace]
	if !ok {
		s = gocache.New(c.ttl, 2*c.ttl)
		c.spaces[namespace] = s
	}
	return s
}

func (c *Cache) Get(namespace, key string) (any, bool) {
	return c.space(namespace).Get(key)
}

func (c *Cache) Set(namespace, key string, value any) {
	c.space(namespace).SetDefault(key, value)
}

// SetWithTTL stores value with an explicit lifetime instead of the default.
func (c *Cache) SetWithTTL(namespace, key string, value any, ttl time.Duration) {
	c.space(namespace).Set(key, value, ttl)
}

// GetOrLoad returns the cached value or calls load. Concurrent misses for
// the same key share one call. Errors are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, namespace, key string, load LoadFunc) (any, error) {
	if v, ok := c.Get(namespace, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(namespace+"\x00"+key, func() (any, error) {
		if v, ok := c.Get(namespace, key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(namespace, key, v)
		return v, nil
	})
	return v, err
}

// Invalidate clears every entry of namespace.
func (c *Cache) Invalidate(namespace string) {
	c.mu.Lock()
	s, ok := c.spaces[namespace]
	c.mu.Unlock()

	if ok {
		s.Flush()
	}
}

func (c *Cache) Len(namespace string) int {
	return c.space(namespace).ItemCount()
}
