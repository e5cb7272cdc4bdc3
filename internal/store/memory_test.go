package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedTree(t *testing.T, s *MemoryStore) (col, cat, sub, item Entity) {
	t.Helper()
	ctx := context.Background()
	var err error
	col, err = s.CreateEntity(ctx, Entity{Kind: KindCollection, OwnerID: "u1", Name: "Reading"})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	cat, err = s.CreateEntity(ctx, Entity{Kind: KindCategory, ParentID: col.ID, OwnerID: "u1", Name: "Go"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	sub, err = s.CreateEntity(ctx, Entity{Kind: KindSubcategory, ParentID: cat.ID, OwnerID: "u1", Name: "Blogs"})
	if err != nil {
		t.Fatalf("create subcategory: %v", err)
	}
	item, err = s.CreateEntity(ctx, Entity{Kind: KindItem, ParentID: sub.ID, OwnerID: "u1", Name: "Go blog", URL: "https://go.dev/blog"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return col, cat, sub, item
}

func TestMemoryStoreCreateRequiresParent(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateEntity(context.Background(), Entity{Kind: KindCategory, ParentID: "col_missing", OwnerID: "u1", Name: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCreateAssignsPrefixedIDs(t *testing.T) {
	s := NewMemoryStore()
	col, cat, sub, item := seedTree(t, s)
	for prefix, id := range map[string]string{"col_": col.ID, "cat_": cat.ID, "sub_": sub.ID, "itm_": item.ID} {
		if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
			t.Fatalf("expected id with prefix %q, got %q", prefix, id)
		}
	}
	if item.URL != "https://go.dev/blog" {
		t.Fatalf("expected url kept on item, got %q", item.URL)
	}
}

func TestMemoryStoreSiblingsCanonicalOrder(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := base
	s.SetClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	ctx := context.Background()
	col, _, _, _ := seedTree(t, s)

	b, _ := s.CreateEntity(ctx, Entity{Kind: KindCategory, ParentID: col.ID, OwnerID: "u1", Name: "B", OrderIndex: 1})
	c, _ := s.CreateEntity(ctx, Entity{Kind: KindCategory, ParentID: col.ID, OwnerID: "u1", Name: "C", OrderIndex: 0})

	siblings, err := s.GetSiblings(ctx, KindCategory, col.ID)
	if err != nil {
		t.Fatalf("siblings: %v", err)
	}
	names := make([]string, 0, len(siblings))
	for _, item := range siblings {
		names = append(names, item.Name)
	}
	// Go and C share order_index 0; Go was created first.
	want := []string{"Go", "C", "B"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	_ = b
	_ = c
}

func TestMemoryStoreCollectionsScopedByOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedTree(t, s)
	if _, err := s.CreateEntity(ctx, Entity{Kind: KindCollection, OwnerID: "u2", Name: "Other"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	mine, err := s.GetSiblings(ctx, KindCollection, "u1")
	if err != nil {
		t.Fatalf("siblings: %v", err)
	}
	if len(mine) != 1 || mine[0].Name != "Reading" {
		t.Fatalf("expected only u1's collection, got %+v", mine)
	}
}

func TestMemoryStoreDeleteCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	col, cat, sub, item := seedTree(t, s)

	if err := s.DeleteEntity(ctx, KindCollection, col.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, probe := range []Entity{cat, sub, item} {
		if _, err := s.GetEntity(ctx, probe.Kind, probe.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected %s %s to be gone, got %v", probe.Kind, probe.ID, err)
		}
	}
	if err := s.DeleteEntity(ctx, KindCollection, col.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreWriteOrderIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, cat, _, _ := seedTree(t, s)
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.WriteOrderIndex(ctx, KindCategory, cat.ID, 7, at); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _ := s.GetEntity(ctx, KindCategory, cat.ID)
	if got.OrderIndex != 7 || !got.UpdatedAt.Equal(at) {
		t.Fatalf("expected order 7 at %v, got %d at %v", at, got.OrderIndex, got.UpdatedAt)
	}
	if err := s.WriteOrderIndex(ctx, KindCategory, "cat_missing", 1, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateEntityPatchesOnlyGivenFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _, _, item := seedTree(t, s)
	title := "The Go Blog"

	updated, err := s.UpdateEntity(ctx, KindItem, item.ID, EntityPatch{Name: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != title || updated.URL != item.URL || updated.OrderIndex != item.OrderIndex {
		t.Fatalf("unexpected patch result: %+v", updated)
	}
}

func TestMemoryStoreRefreshSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateUser(ctx, User{ID: "u1", Email: " Ada@Example.com ", DisplayName: "Ada"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "ada@example.com"); err != nil {
		t.Fatalf("lookup by normalized email: %v", err)
	}
	if err := s.SaveRefreshSession(ctx, "hash", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if user, err := s.LookupRefreshSession(ctx, "hash"); err != nil || user.ID != "u1" {
		t.Fatalf("lookup: %+v %v", user, err)
	}
	_ = s.RevokeRefreshSession(ctx, "hash")
	if _, err := s.LookupRefreshSession(ctx, "hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected revoked session to be gone, got %v", err)
	}
}
