package dragctl

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

// Board keeps one Controller per sibling scope that is on screen.
type Board struct {
	mu          sync.Mutex
	reorderer   Reorderer
	controllers map[ordering.Scope]*Controller
	logger      *slog.Logger
	parallelism int
}

func NewBoard(reorderer Reorderer, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		reorderer:   reorderer,
		controllers: make(map[ordering.Scope]*Controller),
		logger:      logger,
		parallelism: 4,
	}
}

// Load returns the controller for scope, creating it or resetting it with items.
func (b *Board) Load(scope ordering.Scope, items []store.Entity) (*Controller, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.controllers[scope]; ok {
		if err := c.Reset(items); err != nil {
			return c, err
		}
		return c, nil
	}
	c := NewController(scope, b.reorderer, items)
	b.controllers[scope] = c
	return c, nil
}

func (b *Board) Controller(scope ordering.Scope) (*Controller, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.controllers[scope]
	return c, ok
}

func (b *Board) Forget(scope ordering.Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.controllers, scope)
}

// SaveAll saves every scope with unsaved changes concurrently. Scopes are
// disjoint sibling sets, so one failure does not stop the others. The result
// maps each failed scope to its error and is empty when all saves succeed.
func (b *Board) SaveAll(ctx context.Context) map[ordering.Scope]error {
	b.mu.Lock()
	dirty := make([]*Controller, 0, len(b.controllers))
	for _, c := range b.controllers {
		if c.HasChanges() {
			dirty = append(dirty, c)
		}
	}
	b.mu.Unlock()

	var (
		mu       sync.Mutex
		failures = make(map[ordering.Scope]error)
	)
	var g errgroup.Group
	g.SetLimit(b.parallelism)
	for _, c := range dirty {
		g.Go(func() error {
			if err := c.Save(ctx); err != nil {
				b.logger.Warn("scope save failed", "scope", c.Scope().String(), "error", err)
				mu.Lock()
				failures[c.Scope()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}
