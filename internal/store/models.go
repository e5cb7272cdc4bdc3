package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

type Kind string

const (
	KindCollection  Kind = "collection"
	KindCategory    Kind = "category"
	KindSubcategory Kind = "subcategory"
	KindItem        Kind = "item"
)

// Kinds lists every entity kind from the root of the tree down.
var Kinds = []Kind{KindCollection, KindCategory, KindSubcategory, KindItem}

func (k Kind) Valid() bool {
	switch k {
	case KindCollection, KindCategory, KindSubcategory, KindItem:
		return true
	default:
		return false
	}
}

// Parent returns the kind one level up. Collections have no parent kind.
func (k Kind) Parent() (Kind, bool) {
	switch k {
	case KindCategory:
		return KindCollection, true
	case KindSubcategory:
		return KindCategory, true
	case KindItem:
		return KindSubcategory, true
	default:
		return "", false
	}
}

// Child returns the kind one level down. Items have no child kind.
func (k Kind) Child() (Kind, bool) {
	switch k {
	case KindCollection:
		return KindCategory, true
	case KindCategory:
		return KindSubcategory, true
	case KindSubcategory:
		return KindItem, true
	default:
		return "", false
	}
}

// Depth is the zero-based level of the kind in the tree.
func (k Kind) Depth() int {
	switch k {
	case KindCollection:
		return 0
	case KindCategory:
		return 1
	case KindSubcategory:
		return 2
	case KindItem:
		return 3
	default:
		return -1
	}
}

func (k Kind) idPrefix() string {
	switch k {
	case KindCollection:
		return "col"
	case KindCategory:
		return "cat"
	case KindSubcategory:
		return "sub"
	default:
		return "itm"
	}
}

// Entity is one row of any of the four levels. ParentID is empty for
// collections; Name holds the title for items and URL is only set on items.
type Entity struct {
	Kind        Kind      `json:"kind"`
	ID          string    `json:"id"`
	ParentID    string    `json:"parentId,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	OrderIndex  int       `json:"orderIndex"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EntityPatch carries the mutable display fields. Nil fields are left alone.
type EntityPatch struct {
	Name        *string
	Description *string
	URL         *string
}

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
