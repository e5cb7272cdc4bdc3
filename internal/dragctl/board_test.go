package dragctl

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

type scopedReorderer struct {
	mu    sync.Mutex
	fail  map[ordering.Scope]error
	saved map[ordering.Scope][]ordering.Entry
}

func (s *scopedReorderer) Reorder(_ context.Context, scope ordering.Scope, entries []ordering.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[scope]; err != nil {
		return err
	}
	s.saved[scope] = entries
	return nil
}

func TestBoardSaveAllReportsPerScope(t *testing.T) {
	good := ordering.Scope{Kind: store.KindCategory, ParentID: "col_1"}
	bad := ordering.Scope{Kind: store.KindSubcategory, ParentID: "cat_1"}
	clean := ordering.Scope{Kind: store.KindItem, ParentID: "sub_1"}
	r := &scopedReorderer{
		fail:  map[ordering.Scope]error{bad: ordering.ErrPersistenceFault},
		saved: make(map[ordering.Scope][]ordering.Entry),
	}
	b := NewBoard(r, nil)

	for _, scope := range []ordering.Scope{good, bad, clean} {
		if _, err := b.Load(scope, entities("A", "B")); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	for _, scope := range []ordering.Scope{good, bad} {
		c, _ := b.Controller(scope)
		drag(t, c, "B", "A")
	}

	failures := b.SaveAll(context.Background())
	if len(failures) != 1 || !errors.Is(failures[bad], ordering.ErrPersistenceFault) {
		t.Fatalf("expected only %s to fail, got %v", bad, failures)
	}
	if _, ok := r.saved[good]; !ok {
		t.Fatalf("expected %s to be saved", good)
	}
	if _, ok := r.saved[clean]; ok {
		t.Fatalf("expected clean scope to be skipped")
	}
	c, _ := b.Controller(bad)
	if got := order(c.Items()); !equalStrings(got, []string{"A", "B"}) {
		t.Fatalf("expected failed scope rolled back, got %v", got)
	}
}

func TestBoardLoadResetsExistingController(t *testing.T) {
	b := NewBoard(&scopedReorderer{saved: make(map[ordering.Scope][]ordering.Entry)}, nil)
	first, _ := b.Load(testScope, entities("A", "B"))
	drag(t, first, "B", "A")

	second, err := b.Load(testScope, entities("A", "B", "C"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same controller")
	}
	if second.HasChanges() || len(second.Items()) != 3 {
		t.Fatalf("expected fresh state, got %+v", second.Items())
	}
	b.Forget(testScope)
	if _, ok := b.Controller(testScope); ok {
		t.Fatalf("expected scope to be forgotten")
	}
}
