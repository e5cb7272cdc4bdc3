package dragctl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

type reorderCall struct {
	scope   ordering.Scope
	entries []ordering.Entry
}

type fakeReorderer struct {
	mu      sync.Mutex
	calls   []reorderCall
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeReorderer) Reorder(_ context.Context, scope ordering.Scope, entries []ordering.Entry) error {
	f.mu.Lock()
	f.calls = append(f.calls, reorderCall{scope: scope, entries: entries})
	err := f.err
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return err
}

func (f *fakeReorderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var testScope = ordering.Scope{Kind: store.KindCategory, ParentID: "col_1"}

func entities(names ...string) []store.Entity {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]store.Entity, len(names))
	for i, name := range names {
		out[i] = store.Entity{Kind: store.KindCategory, ID: name, ParentID: "col_1", OwnerID: "u1", Name: name, OrderIndex: i, CreatedAt: base}
	}
	return out
}

func order(items []store.Entity) []string {
	return ids(items)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func drag(t *testing.T, c *Controller, id string, over ...string) {
	t.Helper()
	if err := c.StartDrag(id); err != nil {
		t.Fatalf("start drag: %v", err)
	}
	for _, target := range over {
		if err := c.DragOver(target); err != nil {
			t.Fatalf("drag over %s: %v", target, err)
		}
	}
	if err := c.Drop(); err != nil {
		t.Fatalf("drop: %v", err)
	}
}

func TestControllerSaveSubmitsDenseOrder(t *testing.T) {
	r := &fakeReorderer{}
	c := NewController(testScope, r, entities("A", "B"))

	drag(t, c, "B", "A")
	if c.State() != PendingSave || !c.HasChanges() {
		t.Fatalf("expected pending save, got %s changes=%v", c.State(), c.HasChanges())
	}
	if r.callCount() != 0 {
		t.Fatalf("expected no network call before save")
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	want := []ordering.Entry{{ID: "B", OrderIndex: 0}, {ID: "A", OrderIndex: 1}}
	got := r.calls[0].entries
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if c.State() != Idle || c.HasChanges() {
		t.Fatalf("expected idle after save, got %s", c.State())
	}
	items := c.Items()
	if items[0].ID != "B" || items[0].OrderIndex != 0 || items[1].OrderIndex != 1 {
		t.Fatalf("expected renumbered [B A], got %+v", items)
	}
}

func TestControllerRollsBackOnFailedSave(t *testing.T) {
	r := &fakeReorderer{err: ordering.ErrForbidden}
	c := NewController(testScope, r, entities("X", "Y", "Z"))

	drag(t, c, "Z", "Y", "X")
	if got := order(c.Items()); !equalStrings(got, []string{"Z", "X", "Y"}) {
		t.Fatalf("expected [Z X Y] in memory, got %v", got)
	}
	if err := c.Save(context.Background()); !errors.Is(err, ordering.ErrForbidden) {
		t.Fatalf("expected reorder error, got %v", err)
	}
	if got := order(c.Items()); !equalStrings(got, []string{"X", "Y", "Z"}) {
		t.Fatalf("expected rollback to [X Y Z], got %v", got)
	}
	if c.State() != Idle || c.HasChanges() {
		t.Fatalf("expected idle without changes, got %s", c.State())
	}
}

func TestControllerDropAtOriginNeedsNoSave(t *testing.T) {
	r := &fakeReorderer{}
	c := NewController(testScope, r, entities("A", "B", "C"))

	drag(t, c, "A", "C", "B")
	if c.State() != Idle || c.HasChanges() {
		t.Fatalf("expected idle, got %s", c.State())
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if r.callCount() != 0 {
		t.Fatalf("expected save without changes to skip the network")
	}
}

func TestControllerCancelRestoresConfirmedOrder(t *testing.T) {
	r := &fakeReorderer{}
	c := NewController(testScope, r, entities("A", "B", "C"))

	drag(t, c, "C", "A")
	drag(t, c, "B", "C")
	c.Cancel()
	if got := order(c.Items()); !equalStrings(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected [A B C], got %v", got)
	}
	if c.State() != Idle || r.callCount() != 0 {
		t.Fatalf("expected idle with no calls, got %s / %d", c.State(), r.callCount())
	}
}

func TestControllerCancelDuringDragKeepsEarlierChanges(t *testing.T) {
	c := NewController(testScope, &fakeReorderer{}, entities("A", "B", "C"))

	drag(t, c, "C", "A")
	if err := c.StartDrag("A"); err != nil {
		t.Fatalf("start drag: %v", err)
	}
	_ = c.DragOver("B")
	c.Cancel()
	if got := order(c.Items()); !equalStrings(got, []string{"C", "A", "B"}) {
		t.Fatalf("expected [C A B], got %v", got)
	}
	if c.State() != PendingSave {
		t.Fatalf("expected pending save, got %s", c.State())
	}
}

func TestControllerSuppressesConcurrentSave(t *testing.T) {
	r := &fakeReorderer{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := NewController(testScope, r, entities("A", "B", "C"))
	drag(t, c, "C", "A")

	done := make(chan error, 1)
	go func() { done <- c.Save(context.Background()) }()
	<-r.entered

	if !c.Saving() {
		t.Fatalf("expected save in flight")
	}
	// Drags are still accepted while the first save runs.
	drag(t, c, "B", "C")
	if err := c.Save(context.Background()); !errors.Is(err, ErrSaveInFlight) {
		t.Fatalf("expected ErrSaveInFlight, got %v", err)
	}
	if r.callCount() != 1 {
		t.Fatalf("expected a single reorder call, got %d", r.callCount())
	}

	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("first save: %v", err)
	}
	if got := order(c.Items()); !equalStrings(got, []string{"B", "C", "A"}) {
		t.Fatalf("expected the newer local order to survive, got %v", got)
	}
	if c.State() != PendingSave || !c.HasChanges() {
		t.Fatalf("expected pending save for the newer order, got %s", c.State())
	}

	r.release = nil
	r.entered = nil
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if c.State() != Idle || r.callCount() != 2 {
		t.Fatalf("expected idle after second save, got %s / %d", c.State(), r.callCount())
	}
}

func TestControllerKeepsDragBackToPreviousOrderDuringSave(t *testing.T) {
	r := &fakeReorderer{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := NewController(testScope, r, entities("A", "B", "C"))
	drag(t, c, "C", "A")

	done := make(chan error, 1)
	go func() { done <- c.Save(context.Background()) }()
	<-r.entered

	// Back to the order that was confirmed before the save started.
	drag(t, c, "C", "B")
	if got := order(c.Items()); !equalStrings(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected A B C locally, got %v", got)
	}
	if c.State() != PendingSave || !c.HasChanges() {
		t.Fatalf("expected the drag to differ from the order being saved, got %s", c.State())
	}

	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := order(c.Items()); !equalStrings(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected the drag made during the save to survive, got %v", got)
	}
	if c.State() != PendingSave || !c.HasChanges() {
		t.Fatalf("expected pending save after the first save, got %s", c.State())
	}

	c.Cancel()
	if got := order(c.Items()); !equalStrings(got, []string{"C", "A", "B"}) {
		t.Fatalf("expected cancel to restore the saved order, got %v", got)
	}
}

func TestControllerCancelDuringSaveRestoresSubmittedOrder(t *testing.T) {
	r := &fakeReorderer{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := NewController(testScope, r, entities("A", "B", "C"))
	drag(t, c, "C", "A")

	done := make(chan error, 1)
	go func() { done <- c.Save(context.Background()) }()
	<-r.entered

	drag(t, c, "B", "C")
	c.Cancel()
	if got := order(c.Items()); !equalStrings(got, []string{"C", "A", "B"}) {
		t.Fatalf("expected the order being saved, got %v", got)
	}

	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("save: %v", err)
	}
	if c.State() != Idle || c.HasChanges() {
		t.Fatalf("expected idle after save, got %s", c.State())
	}
}

func TestControllerRejectsUnknownItems(t *testing.T) {
	c := NewController(testScope, &fakeReorderer{}, entities("A"))
	if err := c.StartDrag("Q"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if err := c.DragOver("A"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestControllerLoadsCanonicalOrder(t *testing.T) {
	items := entities("A", "B", "C")
	items[0].OrderIndex = 9
	items[1].OrderIndex = 0
	items[2].OrderIndex = 5
	c := NewController(testScope, &fakeReorderer{}, items)
	if got := order(c.Items()); !equalStrings(got, []string{"B", "C", "A"}) {
		t.Fatalf("expected [B C A], got %v", got)
	}
}
