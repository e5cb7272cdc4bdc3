package export

import (
	"context"
	"encoding/json"
	"fmt"

	"shelfmark/api/internal/store"
)

// DataStore is the read slice of the store an export walks.
type DataStore interface {
	GetEntity(ctx context.Context, kind store.Kind, id string) (store.Entity, error)
	GetSiblings(ctx context.Context, kind store.Kind, scopeID string) ([]store.Entity, error)
}

type Service struct {
	store DataStore
}

func NewService(data DataStore) *Service {
	return &Service{store: data}
}

// Export renders one collection with every descendant in canonical order.
func (s *Service) Export(ctx context.Context, collectionID string, format Format) (*Result, error) {
	collection, err := s.store.GetEntity(ctx, store.KindCollection, collectionID)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	root, err := s.folder(ctx, collection)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatNetscape:
		data, err := RenderNetscape(root)
		if err != nil {
			return nil, fmt.Errorf("render bookmarks: %w", err)
		}
		return &Result{Data: data, Filename: sanitizeFilename(collection.Name) + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatJSON:
		data, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode bookmarks: %w", err)
		}
		return &Result{Data: data, Filename: sanitizeFilename(collection.Name) + ".json", MimeType: "application/json"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (s *Service) folder(ctx context.Context, entity store.Entity) (Folder, error) {
	folder := Folder{
		Name:        entity.Name,
		Description: entity.Description,
		Created:     entity.CreatedAt,
		Modified:    entity.UpdatedAt,
	}
	childKind, ok := entity.Kind.Child()
	if !ok {
		return folder, nil
	}
	children, err := s.store.GetSiblings(ctx, childKind, entity.ID)
	if err != nil {
		return Folder{}, fmt.Errorf("list %s children of %s: %w", childKind, entity.ID, err)
	}
	for _, child := range children {
		if child.Kind == store.KindItem {
			folder.Links = append(folder.Links, Link{
				Title:       child.Name,
				URL:         child.URL,
				Description: child.Description,
				Created:     child.CreatedAt,
				Modified:    child.UpdatedAt,
			})
			continue
		}
		sub, err := s.folder(ctx, child)
		if err != nil {
			return Folder{}, err
		}
		folder.Folders = append(folder.Folders, sub)
	}
	return folder, nil
}
