package dragctl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

var (
	ErrSaveInFlight = errors.New("a save is already in flight for this scope")
	ErrUnknownItem  = errors.New("item is not in this scope")
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// Reorderer submits a batch for one sibling scope. Implemented in-process by
// ordering.Bound and over HTTP by client.Client.
type Reorderer interface {
	Reorder(ctx context.Context, scope ordering.Scope, entries []ordering.Entry) error
}

type State int

const (
	Idle State = iota
	Dragging
	PendingSave
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case PendingSave:
		return "pending_save"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller holds the local order of one sibling scope while the user drags
// items around. Only Save talks to the Reorderer.
type Controller struct {
	mu        sync.Mutex
	scope     ordering.Scope
	reorderer Reorderer

	items     []store.Entity
	confirmed []store.Entity
	gesture   []store.Entity
	inflight  []store.Entity
	state     State
	dragID    string
	changed   bool
	saving    bool
}

func NewController(scope ordering.Scope, reorderer Reorderer, items []store.Entity) *Controller {
	c := &Controller{scope: scope, reorderer: reorderer}
	c.load(items)
	return c
}

func (c *Controller) load(items []store.Entity) {
	sorted := clone(items)
	store.SortCanonical(sorted)
	c.items = sorted
	c.confirmed = clone(sorted)
	c.gesture = nil
	c.state = Idle
	c.dragID = ""
	c.changed = false
}

// Reset replaces the local and confirmed order with a fresh read from the
// store, e.g. after a failed save left the stored order indeterminate.
func (c *Controller) Reset(items []store.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saving {
		return ErrSaveInFlight
	}
	c.load(items)
	return nil
}

func (c *Controller) StartDrag(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		return fmt.Errorf("start drag: %w (%s)", ErrInvalidState, c.state)
	}
	if indexOf(c.items, id) < 0 {
		return fmt.Errorf("start drag %s: %w", id, ErrUnknownItem)
	}
	c.gesture = clone(c.items)
	c.state = Dragging
	c.dragID = id
	return nil
}

// DragOver moves the dragged item to the position of overID.
func (c *Controller) DragOver(overID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Dragging {
		return fmt.Errorf("drag over: %w (%s)", ErrInvalidState, c.state)
	}
	from := indexOf(c.items, c.dragID)
	to := indexOf(c.items, overID)
	if to < 0 {
		return fmt.Errorf("drag over %s: %w", overID, ErrUnknownItem)
	}
	if from < 0 || from == to {
		return nil
	}
	moved := c.items[from]
	rest := append(c.items[:from:from], c.items[from+1:]...)
	next := make([]store.Entity, 0, len(c.items))
	next = append(next, rest[:to]...)
	next = append(next, moved)
	next = append(next, rest[to:]...)
	c.items = next
	return nil
}

func (c *Controller) Drop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Dragging {
		return fmt.Errorf("drop: %w (%s)", ErrInvalidState, c.state)
	}
	c.dragID = ""
	c.gesture = nil
	c.changed = !sameOrder(c.items, c.baseline())
	if c.changed {
		c.state = PendingSave
	} else {
		c.state = Idle
	}
	return nil
}

// Cancel drops unsaved changes. During a drag it abandons the gesture only;
// otherwise it restores the order being saved, or the last confirmed one.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dragging {
		c.items = c.gesture
		c.gesture = nil
		c.dragID = ""
		c.changed = !sameOrder(c.items, c.baseline())
		c.state = Idle
		if c.changed {
			c.state = PendingSave
		}
		return
	}
	c.items = clone(c.baseline())
	c.changed = false
	c.state = Idle
}

// Save submits the current order as a dense batch. On failure the local order
// rolls back to the last confirmed one and the error is returned.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return ErrSaveInFlight
	}
	if c.state == Dragging {
		c.mu.Unlock()
		return fmt.Errorf("save: %w (%s)", ErrInvalidState, c.state)
	}
	if !c.changed {
		c.mu.Unlock()
		return nil
	}
	c.saving = true
	submitted := clone(c.items)
	c.inflight = submitted
	c.mu.Unlock()

	err := c.reorderer.Reorder(ctx, c.scope, ordering.DenseEntries(ids(submitted)))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving = false
	c.inflight = nil
	if err != nil {
		c.items = clone(c.confirmed)
		c.gesture = nil
		c.dragID = ""
		c.changed = false
		c.state = Idle
		return err
	}

	for i := range submitted {
		submitted[i].OrderIndex = i
	}
	c.confirmed = submitted
	if c.state == Dragging {
		return nil
	}
	if sameOrder(c.items, submitted) {
		c.items = clone(submitted)
		c.changed = false
		c.state = Idle
		return nil
	}
	// the order moved on while the save was in flight
	c.changed = true
	c.state = PendingSave
	return nil
}

// baseline is the order local edits are measured against: the batch in
// flight while a save runs, the last confirmed order otherwise.
func (c *Controller) baseline() []store.Entity {
	if c.saving {
		return c.inflight
	}
	return c.confirmed
}

func (c *Controller) Scope() ordering.Scope { return c.scope }

func (c *Controller) Items() []store.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.items)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Saving reports whether a save is in flight.
func (c *Controller) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

func clone(items []store.Entity) []store.Entity {
	out := make([]store.Entity, len(items))
	copy(out, items)
	return out
}

func ids(items []store.Entity) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func indexOf(items []store.Entity, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func sameOrder(a, b []store.Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
