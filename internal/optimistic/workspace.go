package optimistic

import (
	"context"
	"log/slog"
	"sync"

	"shelfmark/api/internal/store"
)

// Creator performs the create request for one entity. parentID is empty for
// collections.
type Creator interface {
	Create(ctx context.Context, kind store.Kind, parentID string, fields Fields) (store.Entity, error)
}

// Outcome reports how a placeholder was resolved. Entity is set when the
// create succeeded; Err is set when it failed or the tree could not take the
// result.
type Outcome struct {
	TempID string
	Entity store.Entity
	Err    error
}

// Workspace owns the current Tree for one signed-in user and resolves each
// placeholder exactly once.
type Workspace struct {
	mu      sync.Mutex
	tree    Tree
	creator Creator
	ownerID string
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewWorkspace(tree Tree, creator Creator, ownerID string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{tree: tree, creator: creator, ownerID: ownerID, logger: logger}
}

func (w *Workspace) Tree() Tree {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree
}

// Replace swaps in a freshly fetched tree.
func (w *Workspace) Replace(tree Tree) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tree = tree
}

// Create splices a placeholder into the tree and returns at once. The create
// request runs in the background; the returned channel yields one Outcome
// after the placeholder has been reconciled or discarded.
func (w *Workspace) Create(ctx context.Context, kind store.Kind, path Path, fields Fields) (*Placeholder, <-chan Outcome, error) {
	w.mu.Lock()
	next, placeholder, err := w.tree.CreatePlaceholder(kind, path, fields, w.ownerID)
	if err != nil {
		w.mu.Unlock()
		return nil, nil, err
	}
	w.tree = next
	w.mu.Unlock()

	path = append(Path(nil), path...)
	done := make(chan Outcome, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		done <- w.resolve(ctx, path, placeholder)
	}()
	return placeholder, done, nil
}

func (w *Workspace) resolve(ctx context.Context, path Path, placeholder *Placeholder) Outcome {
	outcome := Outcome{TempID: placeholder.TempID}
	entity, createErr := w.creator.Create(ctx, placeholder.Kind, path.Parent(), placeholder.Fields)

	w.mu.Lock()
	defer w.mu.Unlock()
	if createErr != nil {
		outcome.Err = createErr
		next, err := w.tree.Discard(path, placeholder.TempID)
		if err != nil {
			w.logger.Warn("discard placeholder", "temp_id", placeholder.TempID, "error", err)
			return outcome
		}
		w.tree = next
		return outcome
	}

	outcome.Entity = entity
	next, err := w.tree.Reconcile(path, placeholder.TempID, entity)
	if err != nil {
		w.logger.Warn("reconcile placeholder", "temp_id", placeholder.TempID, "id", entity.ID, "error", err)
		outcome.Err = err
		return outcome
	}
	w.tree = next
	return outcome
}

// Wait blocks until every outstanding create has been resolved.
func (w *Workspace) Wait() {
	w.wg.Wait()
}
