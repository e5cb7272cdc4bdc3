package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, ttl), s
}

func TestRedisCacheSetGetInvalidate(t *testing.T) {
	c, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	if err := c.Get(ctx, "tree:col_1", &payload{}); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	want := payload{Name: "Reading", Items: []string{"a", "b"}}
	if err := c.Set(ctx, "tree:col_1", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.Exists("cache:tree:col_1") {
		t.Fatalf("expected prefixed key in redis")
	}
	var got payload
	if err := c.Get(ctx, "tree:col_1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != want.Name || len(got.Items) != 2 {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if err := c.Invalidate(ctx, "tree:col_1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.Get(ctx, "tree:col_1", &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after invalidate, got %v", err)
	}
}

func TestRedisCacheExpires(t *testing.T) {
	c, s := setupTestRedis(t, time.Second)
	ctx := context.Background()
	if err := c.Set(ctx, "k", payload{Name: "x"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.FastForward(2 * time.Second)
	if err := c.Get(ctx, "k", &payload{}); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after ttl, got %v", err)
	}
}

func TestRedisCacheNotifiesAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)
	writerClient := redis.NewClient(&redis.Options{Addr: s.Addr()})
	readerClient := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		_ = writerClient.Close()
		_ = readerClient.Close()
	})
	writer := NewRedisCache(writerClient, time.Minute)
	reader := NewRedisCache(readerClient, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := reader.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stop()

	events := make(chan string, 4)
	unsubscribe := reader.Subscribe(TreeKey("col_1"), func(key string) { events <- key })

	if err := writer.Invalidate(ctx, TreeKey("col_1"), TreeKey("col_2")); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	select {
	case key := <-events:
		if key != "tree:col_1" {
			t.Fatalf("unexpected key %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invalidation event")
	}

	unsubscribe()
	if err := writer.Invalidate(ctx, TreeKey("col_1")); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	select {
	case key := <-events:
		t.Fatalf("expected no event after unsubscribe, got %q", key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisCacheSetIfVersion(t *testing.T) {
	c, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	version, err := c.Version(ctx, "tree:col_1")
	if err != nil || version != 0 {
		t.Fatalf("expected version 0, got %d %v", version, err)
	}
	if err := c.Invalidate(ctx, "tree:col_1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	stored, err := c.SetIfVersion(ctx, "tree:col_1", payload{Name: "stale"}, version)
	if err != nil {
		t.Fatalf("set if version: %v", err)
	}
	if stored || s.Exists("cache:tree:col_1") {
		t.Fatalf("expected write at an old version to be skipped")
	}

	current, err := c.Version(ctx, "tree:col_1")
	if err != nil || current != version+1 {
		t.Fatalf("expected version %d, got %d %v", version+1, current, err)
	}
	stored, err = c.SetIfVersion(ctx, "tree:col_1", payload{Name: "fresh"}, current)
	if err != nil || !stored {
		t.Fatalf("expected write at the current version, got %v %v", stored, err)
	}
	var got payload
	if err := c.Get(ctx, "tree:col_1", &got); err != nil || got.Name != "fresh" {
		t.Fatalf("expected fresh value, got %+v %v", got, err)
	}
	if ttl := s.TTL("cache:tree:col_1"); ttl <= 0 {
		t.Fatalf("expected ttl on conditional write, got %v", ttl)
	}
}
