package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is the single-process Cache used when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries  map[string]memoryEntry
	versions map[string]int64
	subs     *subscribers
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries:  make(map[string]memoryEntry),
		versions: make(map[string]int64),
		subs:     newSubscribers(),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string, dst any) error {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.ttl > 0 && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return ErrMiss
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	c.subs.notify(key)
	return nil
}

func (c *MemoryCache) Version(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[key], nil
}

func (c *MemoryCache) SetIfVersion(_ context.Context, key string, value any, version int64) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cached %s: %w", key, err)
	}
	c.mu.Lock()
	if c.versions[key] != version {
		c.mu.Unlock()
		return false, nil
	}
	c.entries[key] = memoryEntry{data: data, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	c.subs.notify(key)
	return true, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
		c.versions[key]++
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.subs.notify(key)
	}
	return nil
}

func (c *MemoryCache) Subscribe(key string, fn func(string)) func() {
	return c.subs.add(key, fn)
}
