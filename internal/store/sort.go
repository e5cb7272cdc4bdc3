package store

import "sort"

// SortCanonical sorts siblings in place the way every list view shows them:
// order_index ascending, then created_at ascending, then id. The id step only
// keeps the result deterministic when timestamps collide.
func SortCanonical(items []Entity) {
	sort.SliceStable(items, func(i, j int) bool {
		return compareCanonical(items[i], items[j]) < 0
	})
}

func compareCanonical(a, b Entity) int {
	if a.OrderIndex != b.OrderIndex {
		if a.OrderIndex < b.OrderIndex {
			return -1
		}
		return 1
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}
