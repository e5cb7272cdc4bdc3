package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"shelfmark/api/internal/cache"
	"shelfmark/api/internal/config"
	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/session"
	"shelfmark/api/internal/store"
)

func TestServiceWithRedisSessionsAndCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := session.Connect(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sessions := session.NewRedisStore(client)
	t.Cleanup(func() { _ = sessions.Close() })

	data := store.NewMemoryStore()
	tick := time.Now().UTC().Truncate(time.Second)
	data.SetClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	cfg := config.Defaults()
	cfg.Store = config.StoreMemory
	svc := New(cfg, data, sessions, cache.NewRedisCache(client, time.Minute), nil)

	signedUp, err := svc.SignUp(context.Background(), "redis@example.com", "long enough password", "Redis")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	claims, err := svc.SessionFromToken(context.Background(), signedUp.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	ctx := as(claims.Sub)

	col, _ := svc.CreateCollection(ctx, CollectionInput{Name: "Reading"})
	a, _ := svc.CreateCategory(ctx, col.ID, CategoryInput{Name: "A"})
	b, _ := svc.CreateCategory(ctx, col.ID, CategoryInput{Name: "B"})

	if _, err := svc.Tree(ctx, col.ID); err != nil {
		t.Fatalf("tree: %v", err)
	}
	if !mr.Exists("cache:" + cache.TreeKey(col.ID)) {
		t.Fatalf("expected tree cached in redis")
	}

	scope := ordering.Scope{Kind: store.KindCategory, ParentID: col.ID}
	if err := svc.Reorder(ctx, scope, ordering.DenseEntries([]string{b.ID, a.ID})); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if mr.Exists("cache:" + cache.TreeKey(col.ID)) {
		t.Fatalf("expected tree invalidated after reorder")
	}
	tree, err := svc.Tree(ctx, col.ID)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if got := names(tree.Children); !equalStrings(got, []string{"B", "A"}) {
		t.Fatalf("expected B A, got %v", got)
	}

	if _, err := svc.Refresh(context.Background(), signedUp.RefreshToken); err != nil {
		t.Fatalf("refresh through redis: %v", err)
	}
}
