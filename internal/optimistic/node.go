package optimistic

import (
	"time"

	"shelfmark/api/internal/store"
)

// Node is either *Confirmed or *Placeholder. The unexported method keeps the
// set closed so type switches over Node are exhaustive.
type Node interface {
	NodeID() string
	NodeKind() store.Kind
	node()
}

// Confirmed is an entity the store has acknowledged.
type Confirmed struct {
	Entity   store.Entity
	Children []Node
}

func (c *Confirmed) NodeID() string       { return c.Entity.ID }
func (c *Confirmed) NodeKind() store.Kind { return c.Entity.Kind }
func (*Confirmed) node()                  {}

// Placeholder stands in for an entity whose create request has not resolved.
// It never has children.
type Placeholder struct {
	TempID    string
	Kind      store.Kind
	ParentID  string
	OwnerID   string
	Fields    Fields
	CreatedAt time.Time
}

func (p *Placeholder) NodeID() string       { return p.TempID }
func (p *Placeholder) NodeKind() store.Kind { return p.Kind }
func (*Placeholder) node()                  {}

// Entity renders the placeholder the way list views show it: first among its
// siblings with order_index 0.
func (p *Placeholder) Entity() store.Entity {
	return store.Entity{
		Kind:        p.Kind,
		ID:          p.TempID,
		ParentID:    p.ParentID,
		OwnerID:     p.OwnerID,
		Name:        p.Fields.Name,
		Description: p.Fields.Description,
		URL:         p.Fields.URL,
		OrderIndex:  0,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.CreatedAt,
	}
}

// Fields are the form values a create request carries.
type Fields struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}
