package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shelfmark/api/internal/auth"
	"shelfmark/api/internal/authpw"
	"shelfmark/api/internal/cache"
	"shelfmark/api/internal/config"
	"shelfmark/api/internal/export"
	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

// DataStore is everything the application reads and writes in the primary
// store. Both store.PostgresStore and store.MemoryStore satisfy it.
type DataStore interface {
	Ping(ctx context.Context) error
	CreateEntity(ctx context.Context, entity store.Entity) (store.Entity, error)
	GetEntity(ctx context.Context, kind store.Kind, id string) (store.Entity, error)
	GetParentOf(ctx context.Context, kind store.Kind, id string) (string, error)
	GetSiblings(ctx context.Context, kind store.Kind, scopeID string) ([]store.Entity, error)
	WriteOrderIndex(ctx context.Context, kind store.Kind, id string, value int, updatedAt time.Time) error
	UpdateEntity(ctx context.Context, kind store.Kind, id string, patch store.EntityPatch) (store.Entity, error)
	DeleteEntity(ctx context.Context, kind store.Kind, id string) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// SessionStore holds refresh sessions and revoked access tokens. Redis backs
// it when configured; otherwise the primary store does.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// TreeNode is a stored entity with its children in canonical order.
type TreeNode struct {
	store.Entity
	Children []TreeNode `json:"children,omitempty"`
}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	identity auth.Identity
	signer   *auth.Signer
	accounts *authpw.Service
	reorder  *ordering.Service
	exporter *export.Service
	loader   *cache.Loader
	logger   *slog.Logger
}

func New(cfg config.Config, data DataStore, sessions SessionStore, c cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.NewMemoryCache(cfg.CacheTTL)
	}
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		identity: auth.ContextIdentity{},
		signer:   auth.NewSigner([]byte(cfg.JWTSecret), cfg.AccessTTL),
		accounts: authpw.NewService(data),
		reorder: ordering.NewService(data, ordering.Options{
			RequireFullSet: cfg.ReorderFullSet,
			Logger:         logger.With("component", "reorder"),
		}),
		exporter: export.NewService(data),
		loader:   cache.NewLoader(c, logger),
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReorderService exposes the ordering core for in-process callers.
func (s *Service) ReorderService() *ordering.Service {
	return s.reorder
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, accountError(err)
	}
	s.logger.Info("account created", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, errUnauthorized
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, claims, err := s.signer.Issue(user.ID, user.DisplayName)
	if err != nil {
		return Session{}, err
	}
	refresh := auth.NewRefreshToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}
	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          claims.JTI,
		ExpiresAt:    claims.ExpiresAt(),
	}, nil
}

// SessionFromToken verifies an access token and returns the claims to put on
// the request context.
func (s *Service) SessionFromToken(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return auth.Claims{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return auth.Claims{}, err
	}
	if revoked {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		if err := s.sessions.RevokeAccessToken(ctx, claims.JTI, claims.ExpiresAt()); err != nil {
			s.logger.Warn("revoke access token", "error", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", "error", err)
		}
	}
	return nil
}

func (s *Service) owner(ctx context.Context) (string, error) {
	ownerID := s.identity.CurrentOwnerID(ctx)
	if ownerID == "" {
		return "", errUnauthorized
	}
	return ownerID, nil
}

// owned loads an entity and checks it belongs to ownerID.
func (s *Service) owned(ctx context.Context, ownerID string, kind store.Kind, id string) (store.Entity, error) {
	entity, err := s.store.GetEntity(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Entity{}, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", kind), nil)
	}
	if err != nil {
		return store.Entity{}, err
	}
	if entity.OwnerID != ownerID {
		return store.Entity{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return entity, nil
}

func (s *Service) ListCollections(ctx context.Context) ([]store.Entity, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	return cache.Load(ctx, s.loader, cache.CollectionsKey(ownerID), func(ctx context.Context) ([]store.Entity, error) {
		return s.store.GetSiblings(ctx, store.KindCollection, ownerID)
	})
}

func (s *Service) CreateCollection(ctx context.Context, in CollectionInput) (store.Entity, error) {
	entity, err := in.entity()
	if err != nil {
		return store.Entity{}, err
	}
	return s.create(ctx, "", entity)
}

func (s *Service) CreateCategory(ctx context.Context, collectionID string, in CategoryInput) (store.Entity, error) {
	entity, err := in.entity()
	if err != nil {
		return store.Entity{}, err
	}
	return s.create(ctx, collectionID, entity)
}

func (s *Service) CreateSubcategory(ctx context.Context, categoryID string, in SubcategoryInput) (store.Entity, error) {
	entity, err := in.entity()
	if err != nil {
		return store.Entity{}, err
	}
	return s.create(ctx, categoryID, entity)
}

func (s *Service) CreateItem(ctx context.Context, subcategoryID string, in ItemInput) (store.Entity, error) {
	entity, err := in.entity()
	if err != nil {
		return store.Entity{}, err
	}
	return s.create(ctx, subcategoryID, entity)
}

// create inserts entity first among its siblings (order_index 0).
func (s *Service) create(ctx context.Context, parentID string, entity store.Entity) (store.Entity, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return store.Entity{}, err
	}
	rootID := ""
	if parentKind, ok := entity.Kind.Parent(); ok {
		parent, err := s.owned(ctx, ownerID, parentKind, parentID)
		if err != nil {
			return store.Entity{}, err
		}
		if rootID, err = s.rootOf(ctx, parent.Kind, parent.ID); err != nil {
			return store.Entity{}, err
		}
	}

	entity.ParentID = parentID
	entity.OwnerID = ownerID
	entity.OrderIndex = 0
	created, err := s.store.CreateEntity(ctx, entity)
	if err != nil {
		return store.Entity{}, fmt.Errorf("create %s: %w", entity.Kind, err)
	}
	if created.Kind == store.KindCollection {
		s.invalidate(ctx, cache.CollectionsKey(ownerID))
	} else {
		s.invalidate(ctx, cache.TreeKey(rootID))
	}
	s.logger.Debug("entity created", "kind", created.Kind, "id", created.ID, "parent_id", created.ParentID)
	return created, nil
}

func (s *Service) Update(ctx context.Context, kind store.Kind, id string, in UpdateInput) (store.Entity, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return store.Entity{}, err
	}
	patch, err := in.patch(kind)
	if err != nil {
		return store.Entity{}, err
	}
	if _, err := s.owned(ctx, ownerID, kind, id); err != nil {
		return store.Entity{}, err
	}
	rootID, err := s.rootOf(ctx, kind, id)
	if err != nil {
		return store.Entity{}, err
	}
	updated, err := s.store.UpdateEntity(ctx, kind, id, patch)
	if err != nil {
		return store.Entity{}, fmt.Errorf("update %s: %w", kind, err)
	}
	keys := []string{cache.TreeKey(rootID)}
	if kind == store.KindCollection {
		keys = append(keys, cache.CollectionsKey(ownerID))
	}
	s.invalidate(ctx, keys...)
	return updated, nil
}

// Delete removes the entity and all of its descendants.
func (s *Service) Delete(ctx context.Context, kind store.Kind, id string) error {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if _, err := s.owned(ctx, ownerID, kind, id); err != nil {
		return err
	}
	rootID, err := s.rootOf(ctx, kind, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEntity(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	keys := []string{cache.TreeKey(rootID)}
	if kind == store.KindCollection {
		keys = append(keys, cache.CollectionsKey(ownerID))
	}
	s.invalidate(ctx, keys...)
	s.logger.Info("entity deleted", "kind", kind, "id", id)
	return nil
}

// Reorder applies a batch for the sibling scope under parentID. The empty
// parent with KindCollection addresses the caller's root collections.
func (s *Service) Reorder(ctx context.Context, scope ordering.Scope, entries []ordering.Entry) error {
	ownerID := s.identity.CurrentOwnerID(ctx)
	if err := s.reorder.Reorder(ctx, scope, entries, ownerID); err != nil {
		var fault *ordering.FaultError
		if errors.As(err, &fault) && fault.Partial {
			s.invalidateScope(ctx, ownerID, scope)
		}
		return reorderError(err)
	}
	s.invalidateScope(ctx, ownerID, scope)
	return nil
}

func (s *Service) invalidateScope(ctx context.Context, ownerID string, scope ordering.Scope) {
	if scope.Kind == store.KindCollection {
		s.invalidate(ctx, cache.CollectionsKey(ownerID))
		return
	}
	parentKind, _ := scope.Kind.Parent()
	rootID, err := s.rootOf(ctx, parentKind, scope.ParentID)
	if err != nil {
		s.logger.Warn("resolve root for cache invalidation", "scope", scope.String(), "error", err)
		return
	}
	s.invalidate(ctx, cache.TreeKey(rootID))
}

// Tree returns a collection with every descendant nested in canonical order.
func (s *Service) Tree(ctx context.Context, collectionID string) (TreeNode, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return TreeNode{}, err
	}
	collection, err := s.owned(ctx, ownerID, store.KindCollection, collectionID)
	if err != nil {
		return TreeNode{}, err
	}
	return cache.Load(ctx, s.loader, cache.TreeKey(collectionID), func(ctx context.Context) (TreeNode, error) {
		return s.buildTree(ctx, collection)
	})
}

func (s *Service) buildTree(ctx context.Context, entity store.Entity) (TreeNode, error) {
	node := TreeNode{Entity: entity}
	childKind, ok := entity.Kind.Child()
	if !ok {
		return node, nil
	}
	children, err := s.store.GetSiblings(ctx, childKind, entity.ID)
	if err != nil {
		return TreeNode{}, fmt.Errorf("list children of %s: %w", entity.ID, err)
	}
	node.Children = make([]TreeNode, 0, len(children))
	for _, child := range children {
		sub, err := s.buildTree(ctx, child)
		if err != nil {
			return TreeNode{}, err
		}
		node.Children = append(node.Children, sub)
	}
	return node, nil
}

func (s *Service) Export(ctx context.Context, collectionID string, format export.Format) (*export.Result, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, ownerID, store.KindCollection, collectionID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, collectionID, format)
}

// rootOf walks parent links up to the owning collection.
func (s *Service) rootOf(ctx context.Context, kind store.Kind, id string) (string, error) {
	for kind != store.KindCollection {
		parentID, err := s.store.GetParentOf(ctx, kind, id)
		if err != nil {
			return "", fmt.Errorf("resolve parent of %s %s: %w", kind, id, err)
		}
		parentKind, ok := kind.Parent()
		if !ok {
			return "", fmt.Errorf("kind %s has no parent", kind)
		}
		kind, id = parentKind, parentID
	}
	return id, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.loader.Cache().Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
}
