package tree

import "github.com/oklog/ulid/v2"

// NewID returns a fresh lexically sortable identifier. Records entering the
// store keep any id they already carry, so a re-imported document matches
// its earlier copy instead of duplicating it.
func NewID() string {
	return ulid.Make().String()
}

// assignIDs fills every empty page and category id in t and reports how
// many were assigned.
func assignIDs(t *Tree) int {
	return assignLevelIDs(&t.Level)
}

func assignLevelIDs(l *Level) int {
	n := 0
	for i := range l.Pages {
		if l.Pages[i].ID == "" {
			l.Pages[i].ID = NewID()
			n++
		}
	}
	for i := range l.Categories {
		if l.Categories[i].ID == "" {
			l.Categories[i].ID = NewID()
			n++
		}
	}
	for i := range l.Categories {
		n += assignLevelIDs(&l.Categories[i].Level)
	}
	return n
}
