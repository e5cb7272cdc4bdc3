package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"shelfmark/api/internal/util"
)

// MemoryStore keeps every table in process memory. It backs the `memory`
// store driver and the service tests. Writes are row-atomic only; there is
// no multi-row transaction support.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	entities map[Kind]map[string]Entity
	users    map[string]User
	emails   map[string]string
	refresh  map[string]memoryRefresh
	revoked  map[string]time.Time
}

type memoryRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func NewMemoryStore() *MemoryStore {
	entities := make(map[Kind]map[string]Entity, len(Kinds))
	for _, kind := range Kinds {
		entities[kind] = make(map[string]Entity)
	}
	return &MemoryStore{
		now:      time.Now,
		entities: entities,
		users:    make(map[string]User),
		emails:   make(map[string]string),
		refresh:  make(map[string]memoryRefresh),
		revoked:  make(map[string]time.Time),
	}
}

// SetClock replaces the time source used for created_at/updated_at defaults.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateEntity(_ context.Context, entity Entity) (Entity, error) {
	if !entity.Kind.Valid() {
		return Entity{}, fmt.Errorf("create entity: unknown kind %q", entity.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentKind, ok := entity.Kind.Parent(); ok {
		if _, exists := s.entities[parentKind][entity.ParentID]; !exists {
			return Entity{}, fmt.Errorf("create %s: parent %s: %w", entity.Kind, entity.ParentID, ErrNotFound)
		}
	} else {
		entity.ParentID = ""
	}
	if entity.ID == "" {
		entity.ID = util.NewID(entity.Kind.idPrefix())
	}
	if _, exists := s.entities[entity.Kind][entity.ID]; exists {
		return Entity{}, fmt.Errorf("create %s: duplicate id %s", entity.Kind, entity.ID)
	}
	now := s.now()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = entity.CreatedAt
	}
	if entity.Kind != KindItem {
		entity.URL = ""
	}
	s.entities[entity.Kind][entity.ID] = entity
	return entity, nil
}

func (s *MemoryStore) GetEntity(_ context.Context, kind Kind, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[kind][id]
	if !ok {
		return Entity{}, fmt.Errorf("get %s %s: %w", kind, id, ErrNotFound)
	}
	return entity, nil
}

func (s *MemoryStore) GetParentOf(ctx context.Context, kind Kind, id string) (string, error) {
	entity, err := s.GetEntity(ctx, kind, id)
	if err != nil {
		return "", err
	}
	return entity.ParentID, nil
}

// GetSiblings returns the rows of kind sharing scopeID, canonically ordered.
// For collections scopeID is the owner id.
func (s *MemoryStore) GetSiblings(_ context.Context, kind Kind, scopeID string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Entity, 0)
	for _, entity := range s.entities[kind] {
		if scopeOf(entity) == scopeID {
			items = append(items, entity)
		}
	}
	SortCanonical(items)
	return items, nil
}

func (s *MemoryStore) WriteOrderIndex(_ context.Context, kind Kind, id string, value int, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[kind][id]
	if !ok {
		return fmt.Errorf("write order index %s %s: %w", kind, id, ErrNotFound)
	}
	entity.OrderIndex = value
	entity.UpdatedAt = updatedAt
	s.entities[kind][id] = entity
	return nil
}

func (s *MemoryStore) UpdateEntity(_ context.Context, kind Kind, id string, patch EntityPatch) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[kind][id]
	if !ok {
		return Entity{}, fmt.Errorf("update %s %s: %w", kind, id, ErrNotFound)
	}
	if patch.Name != nil {
		entity.Name = *patch.Name
	}
	if patch.Description != nil {
		entity.Description = *patch.Description
	}
	if patch.URL != nil && kind == KindItem {
		entity.URL = *patch.URL
	}
	entity.UpdatedAt = s.now()
	s.entities[kind][id] = entity
	return entity, nil
}

// DeleteEntity removes the row and every descendant.
func (s *MemoryStore) DeleteEntity(_ context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[kind][id]; !ok {
		return fmt.Errorf("delete %s %s: %w", kind, id, ErrNotFound)
	}
	s.deleteLocked(kind, id)
	return nil
}

func (s *MemoryStore) deleteLocked(kind Kind, id string) {
	delete(s.entities[kind], id)
	childKind, ok := kind.Child()
	if !ok {
		return
	}
	for childID, child := range s.entities[childKind] {
		if child.ParentID == id {
			s.deleteLocked(childKind, childID)
		}
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, exists := s.emails[email]; exists {
		return fmt.Errorf("create user: email %s already registered", email)
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = email
	s.users[user.ID] = user
	s.emails[email] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return user, nil
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[tokenHash] = memoryRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.refresh[tokenHash]
	if !ok || record.revoked || !s.now().Before(record.expiresAt) {
		return User{}, fmt.Errorf("refresh session: %w", ErrNotFound)
	}
	user, ok := s.users[record.userID]
	if !ok {
		return User{}, fmt.Errorf("refresh session user: %w", ErrNotFound)
	}
	return user, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.refresh[tokenHash]; ok {
		record.revoked = true
		s.refresh[tokenHash] = record
	}
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = expiresAt
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revoked[jti]
	return revoked, nil
}

func scopeOf(entity Entity) string {
	if entity.Kind == KindCollection {
		return entity.OwnerID
	}
	return entity.ParentID
}
