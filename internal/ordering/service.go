package ordering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"shelfmark/api/internal/store"
)

// Persistence is the slice of the store the reorder path depends on.
type Persistence interface {
	GetSiblings(ctx context.Context, kind store.Kind, scopeID string) ([]store.Entity, error)
	WriteOrderIndex(ctx context.Context, kind store.Kind, id string, value int, updatedAt time.Time) error
	GetEntity(ctx context.Context, kind store.Kind, id string) (store.Entity, error)
	GetParentOf(ctx context.Context, kind store.Kind, id string) (string, error)
}

// Transactor is implemented by stores that can run several writes atomically.
// Calls made with the ctx handed to fn join the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MaxOrderIndex is the largest order_index the order_index INTEGER column
// holds.
const MaxOrderIndex = math.MaxInt32

// Scope names one sibling set. ParentID is empty for root collections, which
// are scoped by their owner instead.
type Scope struct {
	Kind     store.Kind `json:"kind"`
	ParentID string     `json:"parentId,omitempty"`
}

func (s Scope) String() string {
	if s.ParentID == "" {
		return string(s.Kind) + "@root"
	}
	return string(s.Kind) + "@" + s.ParentID
}

type Entry struct {
	ID         string `json:"id"`
	OrderIndex int    `json:"order_index"`
}

// DenseEntries numbers ids by array position, 0..n-1.
func DenseEntries(ids []string) []Entry {
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{ID: id, OrderIndex: i}
	}
	return entries
}

type Options struct {
	// RequireFullSet rejects batches that leave out any current sibling.
	RequireFullSet bool
	Logger         *slog.Logger
	Now            func() time.Time
}

type Service struct {
	store          Persistence
	requireFullSet bool
	logger         *slog.Logger
	now            func() time.Time
}

func NewService(persistence Persistence, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:          persistence,
		requireFullSet: opts.RequireFullSet,
		logger:         logger,
		now:            now,
	}
}

type pendingWrite struct {
	id    string
	value int
}

// Reorder writes the requested order_index values for one sibling scope.
// Every entry is validated before the first write; a rejected batch leaves
// the store untouched.
func (s *Service) Reorder(ctx context.Context, scope Scope, entries []Entry, requesterID string) error {
	writes, err := s.plan(ctx, scope, entries, requesterID)
	if err != nil {
		var fault *FaultError
		if errors.As(err, &fault) {
			s.logger.Error("reorder lookup failed", "scope", scope.String(), "requester", requesterID, "error", err)
		} else {
			s.logger.Warn("reorder rejected", "scope", scope.String(), "requester", requesterID, "reason", err.Error())
		}
		return err
	}
	if len(writes) == 0 {
		s.logger.Debug("reorder unchanged", "scope", scope.String(), "entries", len(entries))
		return nil
	}

	if tx, ok := s.store.(Transactor); ok {
		err = s.applyInTx(ctx, tx, scope.Kind, writes)
	} else {
		err = s.applyAndVerify(ctx, scope.Kind, writes)
	}
	if err != nil {
		var fault *FaultError
		if errors.As(err, &fault) {
			s.logger.Error("reorder write failed",
				"scope", scope.String(),
				"requester", requesterID,
				"failed_ids", fault.FailedIDs,
				"partial", fault.Partial,
				"error", fault.Err,
			)
		}
		return err
	}
	s.logger.Info("reorder applied", "scope", scope.String(), "requester", requesterID, "written", len(writes))
	return nil
}

func (s *Service) plan(ctx context.Context, scope Scope, entries []Entry, requesterID string) ([]pendingWrite, error) {
	if requesterID == "" {
		return nil, ErrUnauthorized
	}
	if !scope.Kind.Valid() {
		return nil, validationf("unknown kind %q", scope.Kind)
	}
	if len(entries) == 0 {
		return nil, validationf("entries must not be empty")
	}
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if entry.ID == "" {
			return nil, validationf("entries[%d].id is required", i)
		}
		if entry.OrderIndex < 0 {
			return nil, validationf("entries[%d].order_index must be non-negative", i)
		}
		if entry.OrderIndex > MaxOrderIndex {
			return nil, validationf("entries[%d].order_index must not exceed %d", i, MaxOrderIndex)
		}
		if _, dup := seen[entry.ID]; dup {
			return nil, validationf("entry %s appears more than once", entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}

	scopeID, err := s.resolveScope(ctx, scope, requesterID)
	if err != nil {
		return nil, err
	}

	writes := make([]pendingWrite, 0, len(entries))
	for _, entry := range entries {
		current, err := s.store.GetEntity(ctx, scope.Kind, entry.ID)
		if err != nil {
			return nil, lookupError(err, "%s %s", scope.Kind, entry.ID)
		}
		parentID, err := s.store.GetParentOf(ctx, scope.Kind, entry.ID)
		if err != nil {
			return nil, lookupError(err, "parent of %s %s", scope.Kind, entry.ID)
		}
		if scope.Kind == store.KindCollection {
			if current.OwnerID != requesterID {
				return nil, forbiddenf("collection %s belongs to another user", entry.ID)
			}
		} else {
			if parentID != scope.ParentID {
				return nil, notFoundf("%s %s is not in %s", scope.Kind, entry.ID, scope.ParentID)
			}
			if current.OwnerID != requesterID {
				return nil, forbiddenf("%s %s belongs to another user", scope.Kind, entry.ID)
			}
		}
		if current.OrderIndex != entry.OrderIndex {
			writes = append(writes, pendingWrite{id: entry.ID, value: entry.OrderIndex})
		}
	}

	if s.requireFullSet {
		siblings, err := s.store.GetSiblings(ctx, scope.Kind, scopeID)
		if err != nil {
			return nil, &FaultError{Err: fmt.Errorf("list siblings of %s: %w", scope, err)}
		}
		for _, sibling := range siblings {
			if _, ok := seen[sibling.ID]; !ok {
				return nil, validationf("batch must include every sibling; %s is missing", sibling.ID)
			}
		}
	}
	return writes, nil
}

// resolveScope checks the parent and returns the id siblings are keyed by.
func (s *Service) resolveScope(ctx context.Context, scope Scope, requesterID string) (string, error) {
	parentKind, hasParent := scope.Kind.Parent()
	if !hasParent {
		if scope.ParentID != "" && scope.ParentID != requesterID {
			return "", forbiddenf("collections of another user")
		}
		return requesterID, nil
	}
	if scope.ParentID == "" {
		return "", validationf("%s reorder requires a parent id", scope.Kind)
	}
	parent, err := s.store.GetEntity(ctx, parentKind, scope.ParentID)
	if err != nil {
		return "", lookupError(err, "%s %s", parentKind, scope.ParentID)
	}
	if parent.OwnerID != requesterID {
		return "", forbiddenf("%s %s belongs to another user", parentKind, scope.ParentID)
	}
	return scope.ParentID, nil
}

func (s *Service) applyInTx(ctx context.Context, tx Transactor, kind store.Kind, writes []pendingWrite) error {
	updatedAt := s.now()
	var failedID string
	err := tx.InTx(ctx, func(ctx context.Context) error {
		for _, w := range writes {
			if err := s.store.WriteOrderIndex(ctx, kind, w.id, w.value, updatedAt); err != nil {
				failedID = w.id
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	fault := &FaultError{Err: err}
	if failedID != "" {
		fault.FailedIDs = []string{failedID}
	} else {
		fault.FailedIDs = writeIDs(writes)
	}
	return fault
}

// applyAndVerify issues every write, then re-reads the rows. Rows that did
// not end up with the requested value are reported as failed.
func (s *Service) applyAndVerify(ctx context.Context, kind store.Kind, writes []pendingWrite) error {
	updatedAt := s.now()
	failed := make(map[string]error)
	for _, w := range writes {
		if err := s.store.WriteOrderIndex(ctx, kind, w.id, w.value, updatedAt); err != nil {
			failed[w.id] = err
		}
	}
	for _, w := range writes {
		if _, already := failed[w.id]; already {
			continue
		}
		stored, err := s.store.GetEntity(ctx, kind, w.id)
		if err != nil {
			failed[w.id] = err
			continue
		}
		if stored.OrderIndex != w.value {
			failed[w.id] = fmt.Errorf("%s %s has order_index %d, want %d", kind, w.id, stored.OrderIndex, w.value)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	fault := &FaultError{Partial: len(failed) < len(writes)}
	errs := make([]error, 0, len(failed))
	for _, w := range writes {
		if err, ok := failed[w.id]; ok {
			fault.FailedIDs = append(fault.FailedIDs, w.id)
			errs = append(errs, err)
		}
	}
	fault.Err = errors.Join(errs...)
	return fault
}

func writeIDs(writes []pendingWrite) []string {
	ids := make([]string, len(writes))
	for i, w := range writes {
		ids[i] = w.id
	}
	return ids
}

func lookupError(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFoundf(format, args...)
	}
	return &FaultError{Err: fmt.Errorf("lookup %s: %w", fmt.Sprintf(format, args...), err)}
}
