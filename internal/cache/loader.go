package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Loader reads through a Cache and collapses concurrent misses for the same
// key into one fetch.
type Loader struct {
	cache  Cache
	group  singleflight.Group
	logger *slog.Logger
}

func NewLoader(c Cache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cache: c, logger: logger}
}

func (l *Loader) Cache() Cache { return l.cache }

// Load returns the cached value for key or fetches and caches it. A fetch
// that overlaps an Invalidate of key is returned but not cached. Cache
// failures are logged and fall through to fetch.
func Load[T any](ctx context.Context, l *Loader, key string, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	err := l.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		l.logger.Warn("cache read failed", "key", key, "error", err)
	}

	version, err := l.cache.Version(ctx, key)
	if err != nil {
		l.logger.Warn("cache version read failed", "key", key, "error", err)
		value, err := fetch(ctx)
		return value, err
	}

	// Callers that arrive after an invalidation get their own fetch instead of
	// joining one that may have read the old data.
	flightKey := fmt.Sprintf("%s@%d", key, version)
	v, err, _ := l.group.Do(flightKey, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return value, err
		}
		stored, err := l.cache.SetIfVersion(ctx, key, value, version)
		if err != nil {
			l.logger.Warn("cache write failed", "key", key, "error", err)
		} else if !stored {
			l.logger.Debug("cache write skipped; key invalidated during fetch", "key", key)
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
