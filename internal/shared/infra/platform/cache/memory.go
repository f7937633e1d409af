package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// InMemoryCache implementa Cache sobre go-cache. Guarda bytes JSON para
// comportarse igual que Redis (los valores se copian, no se comparten punteros).
type InMemoryCache struct {
	store *gocache.Cache
}

// NewInMemoryCache crea la caché en memoria.
// - defaultTTL: tiempo de vida por defecto de las claves.
// - cleanupInterval: cada cuánto se purgan las claves expiradas.
func NewInMemoryCache(defaultTTL, cleanupInterval time.Duration) *InMemoryCache {
	return &InMemoryCache{store: gocache.New(defaultTTL, cleanupInterval)}
}

func (c *InMemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.store.Get(key)
	if !ok {
		return false, nil
	}
	data, ok := raw.([]byte)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	ttl := gocache.DefaultExpiration
	if ttlSecs > 0 {
		ttl = time.Duration(ttlSecs) * time.Second
	}
	c.store.Set(key, data, ttl)
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

var _ Cache = (*InMemoryCache)(nil)
