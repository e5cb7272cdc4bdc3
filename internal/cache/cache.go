// Package cache holds server-derived values that several readers share,
// with subscriber notification when a key changes.
package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrMiss is returned by Get when the key holds no value.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	// Get decodes the cached value into dst.
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
	// Version returns the invalidation generation of key. Every Invalidate
	// of the key moves it forward.
	Version(ctx context.Context, key string) (int64, error)
	// SetIfVersion stores value only while key is still at version. It
	// reports whether the value was stored.
	SetIfVersion(ctx context.Context, key string, value any, version int64) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
	// Subscribe calls fn whenever key is set or invalidated.
	Subscribe(key string, fn func(key string)) (unsubscribe func())
}

func TreeKey(collectionID string) string { return "tree:" + collectionID }

func CollectionsKey(ownerID string) string { return "collections:" + ownerID }

type subscribers struct {
	mu    sync.RWMutex
	next  int
	byKey map[string]map[int]func(string)
}

func newSubscribers() *subscribers {
	return &subscribers{byKey: make(map[string]map[int]func(string))}
}

func (s *subscribers) add(key string, fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	if s.byKey[key] == nil {
		s.byKey[key] = make(map[int]func(string))
	}
	s.byKey[key][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.byKey[key], id)
			if len(s.byKey[key]) == 0 {
				delete(s.byKey, key)
			}
		})
	}
}

func (s *subscribers) notify(key string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.byKey[key]))
	for _, fn := range s.byKey[key] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(key)
	}
}
