package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is the in-process Cache used for tests and single-node
// deployments without Redis.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	hashes  map[string]*memHash
	zsets   map[string]map[string]float64
	now     func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero = never
}

type memHash struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memEntry),
		hashes:  make(map[string]*memHash),
		zsets:   make(map[string]map[string]float64),
		now:     time.Now,
	}
}

func (c *MemoryCache) expired(at time.Time) bool {
	return !at.IsZero() && c.now().After(at)
}

func (c *MemoryCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.expired(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &memEntry{value: value, expiresAt: c.deadline(ttl)}
	return nil
}

func (c *MemoryCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !c.expired(e.expiresAt) {
		return false, nil
	}
	c.entries[key] = &memEntry{value: value, expiresAt: c.deadline(ttl)}
	return true, nil
}

func (c *MemoryCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		delete(c.hashes, k)
		delete(c.zsets, k)
	}
	return nil
}

func (c *MemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.expiresAt = c.deadline(ttl)
	}
	if h, ok := c.hashes[key]; ok {
		h.expiresAt = c.deadline(ttl)
	}
	return nil
}

func (c *MemoryCache) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[key]
	if !ok || c.expired(h.expiresAt) {
		h = &memHash{fields: make(map[string]string)}
		c.hashes[key] = h
	}
	for k, v := range fields {
		h.fields[k] = v
	}
	h.expiresAt = c.deadline(ttl)
	return nil
}

func (c *MemoryCache) HGetAll(ctx context.Context, key string) (map[string]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[key]
	if !ok || c.expired(h.expiresAt) {
		return nil, false, nil
	}
	out := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		out[k] = v
	}
	return out, true, nil
}

func (c *MemoryCache) ZIncrBy(ctx context.Context, key, member string, delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.zsets[key]
	if !ok {
		z = make(map[string]float64)
		c.zsets[key] = z
	}
	z[member] += delta
	return nil
}

func (c *MemoryCache) ZScores(ctx context.Context, key string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z := c.zsets[key]
	out := make(map[string]float64, len(z))
	for m, s := range z {
		out[m] = s
	}
	return out, nil
}

func (c *MemoryCache) ZRem(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z := c.zsets[key]
	for _, m := range members {
		delete(z, m)
	}
	return nil
}

func (c *MemoryCache) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) && !c.expired(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	for k, h := range c.hashes {
		if strings.HasPrefix(k, prefix) && !c.expired(h.expiresAt) {
			keys = append(keys, k)
		}
	}
	for k := range c.zsets {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *MemoryCache) DelPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.ScanPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if err := c.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (c *MemoryCache) Close() error { return nil }
