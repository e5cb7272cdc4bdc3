package optimistic

import (
	"errors"
	"fmt"
	"time"

	"shelfmark/api/internal/store"
	"shelfmark/api/internal/util"
)

var (
	ErrParentNotFound      = errors.New("parent not found")
	ErrParentPending       = errors.New("parent is still a placeholder")
	ErrKindMismatch        = errors.New("kind does not fit at this depth")
	ErrPlaceholderNotFound = errors.New("placeholder not found")
	ErrNotPlaceholder      = errors.New("node is already confirmed")
)

// Path lists node ids from a root collection down to a parent. The empty
// path addresses the root collections.
type Path []string

func (p Path) Parent() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Tree is an immutable snapshot of the user's collections. Every operation
// returns a new Tree and shares untouched subtrees with the old one.
type Tree struct {
	Roots []Node
}

// Build nests entities under their parents in canonical sibling order.
func Build(entities []store.Entity) Tree {
	byParent := make(map[string][]store.Entity)
	var roots []store.Entity
	for _, e := range entities {
		if e.Kind == store.KindCollection {
			roots = append(roots, e)
			continue
		}
		byParent[e.ParentID] = append(byParent[e.ParentID], e)
	}
	var nest func(level []store.Entity) []Node
	nest = func(level []store.Entity) []Node {
		store.SortCanonical(level)
		nodes := make([]Node, len(level))
		for i, e := range level {
			nodes[i] = &Confirmed{Entity: e, Children: nest(byParent[e.ID])}
		}
		return nodes
	}
	return Tree{Roots: nest(roots)}
}

// Children returns the nodes under path.
func (t Tree) Children(path Path) ([]Node, error) {
	nodes := t.Roots
	for depth, id := range path {
		i := indexOf(nodes, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, id)
		}
		switch n := nodes[i].(type) {
		case *Confirmed:
			nodes = n.Children
		case *Placeholder:
			if depth == len(path)-1 {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, id)
		}
	}
	return nodes, nil
}

// CreatePlaceholder puts a new placeholder first among the children at path.
func (t Tree) CreatePlaceholder(kind store.Kind, path Path, fields Fields, ownerID string) (Tree, *Placeholder, error) {
	if !kind.Valid() || kind.Depth() != len(path) {
		return t, nil, fmt.Errorf("%w: %s under %d ancestors", ErrKindMismatch, kind, len(path))
	}
	placeholder := &Placeholder{
		TempID:    util.NewTempID(),
		Kind:      kind,
		ParentID:  path.Parent(),
		OwnerID:   ownerID,
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}
	roots, err := rewrite(t.Roots, path, func(children []Node) ([]Node, error) {
		next := make([]Node, 0, len(children)+1)
		next = append(next, placeholder)
		return append(next, children...), nil
	})
	if err != nil {
		return t, nil, err
	}
	return Tree{Roots: roots}, placeholder, nil
}

// Reconcile swaps the placeholder for the confirmed entity at the same index.
func (t Tree) Reconcile(path Path, tempID string, confirmed store.Entity) (Tree, error) {
	roots, err := rewrite(t.Roots, path, func(children []Node) ([]Node, error) {
		i, err := placeholderIndex(children, tempID)
		if err != nil {
			return nil, err
		}
		if children[i].NodeKind() != confirmed.Kind {
			return nil, fmt.Errorf("%w: placeholder is %s, confirmed is %s", ErrKindMismatch, children[i].NodeKind(), confirmed.Kind)
		}
		next := make([]Node, len(children))
		copy(next, children)
		next[i] = &Confirmed{Entity: confirmed}
		return next, nil
	})
	if err != nil {
		return t, err
	}
	return Tree{Roots: roots}, nil
}

// Discard drops the placeholder and leaves its siblings in place.
func (t Tree) Discard(path Path, tempID string) (Tree, error) {
	roots, err := rewrite(t.Roots, path, func(children []Node) ([]Node, error) {
		i, err := placeholderIndex(children, tempID)
		if err != nil {
			return nil, err
		}
		next := make([]Node, 0, len(children)-1)
		next = append(next, children[:i]...)
		return append(next, children[i+1:]...), nil
	})
	if err != nil {
		return t, err
	}
	return Tree{Roots: roots}, nil
}

// Placeholders counts unresolved placeholders anywhere in the tree.
func (t Tree) Placeholders() int {
	var count func(nodes []Node) int
	count = func(nodes []Node) int {
		total := 0
		for _, node := range nodes {
			switch n := node.(type) {
			case *Placeholder:
				total++
			case *Confirmed:
				total += count(n.Children)
			}
		}
		return total
	}
	return count(t.Roots)
}

// rewrite copies the spine down to path and replaces the children found
// there with the result of fn.
func rewrite(nodes []Node, path Path, fn func([]Node) ([]Node, error)) ([]Node, error) {
	if len(path) == 0 {
		return fn(nodes)
	}
	i := indexOf(nodes, path[0])
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, path[0])
	}
	var parent *Confirmed
	switch n := nodes[i].(type) {
	case *Confirmed:
		parent = n
	case *Placeholder:
		return nil, fmt.Errorf("%w: %s", ErrParentPending, n.TempID)
	}
	children, err := rewrite(parent.Children, path[1:], fn)
	if err != nil {
		return nil, err
	}
	next := make([]Node, len(nodes))
	copy(next, nodes)
	next[i] = &Confirmed{Entity: parent.Entity, Children: children}
	return next, nil
}

func placeholderIndex(children []Node, tempID string) (int, error) {
	i := indexOf(children, tempID)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s", ErrPlaceholderNotFound, tempID)
	}
	switch children[i].(type) {
	case *Placeholder:
		return i, nil
	default:
		return -1, fmt.Errorf("%w: %s", ErrNotPlaceholder, tempID)
	}
}

func indexOf(nodes []Node, id string) int {
	for i, node := range nodes {
		if node.NodeID() == id {
			return i
		}
	}
	return -1
}
