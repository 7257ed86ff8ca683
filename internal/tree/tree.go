// Package tree defines the shared document tree: categories containing
// pages and sub-categories, each level carrying an explicit interleaved
// display order. It owns order repair, the import merge engine, the
// visibility filter, and the file-backed canonical store.
package tree

import "encoding/json"

// EntryKind selects which child array of a level an OrderEntry points into.
type EntryKind string

const (
	KindPage     EntryKind = "page"
	KindCategory EntryKind = "category"
)

// OrderEntry references one direct child of a level by kind and position
// within the corresponding array (not within a flattened list). The entry
// sequence is the interleaved display order of that level.
type OrderEntry struct {
	Kind  EntryKind `json:"kind"`
	Index int       `json:"index"`
}

// Page is a single shareable document. ID is assigned once when the page
// enters the canonical store and never changes afterwards; name and
// source_url matching exist only as legacy fallbacks for id-less imports.
type Page struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	SourceURL        string   `json:"source_url,omitempty"`
	VisibleToViewers bool     `json:"visible_to_viewers"`
	RenderFilter     []string `json:"render_filter,omitempty"`
}

// Clone returns a deep copy of the page.
func (p Page) Clone() Page {
	out := p
	if p.RenderFilter != nil {
		out.RenderFilter = append([]string(nil), p.RenderFilter...)
	}
	return out
}

// Level is the shape shared by the tree root and every category: direct
// pages, direct sub-categories, and their stored interleaved order. The
// stored order may lag behind the arrays; CombinedOrder repairs it on read.
type Level struct {
	Pages      []Page       `json:"pages"`
	Categories []Category   `json:"categories"`
	Order      []OrderEntry `json:"order,omitempty"`
}

// Clone returns a deep copy of the level.
func (l Level) Clone() Level {
	out := Level{
		Pages:      make([]Page, len(l.Pages)),
		Categories: make([]Category, len(l.Categories)),
	}
	for i, p := range l.Pages {
		out.Pages[i] = p.Clone()
	}
	for i, c := range l.Categories {
		out.Categories[i] = c.Clone()
	}
	if l.Order != nil {
		out.Order = append([]OrderEntry(nil), l.Order...)
	}
	return out
}

// Category groups pages and further categories under a name.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Level
}

// Clone returns a deep copy of the category.
func (c Category) Clone() Category {
	return Category{ID: c.ID, Name: c.Name, Level: c.Level.Clone()}
}

// Tree is the root level of a document tree.
type Tree struct {
	Level
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	return Tree{Level: t.Level.Clone()}
}

// Empty reports whether the tree has no pages and no categories at all.
func (t Tree) Empty() bool {
	return len(t.Pages) == 0 && len(t.Categories) == 0
}

// FindPage returns the page with the given id anywhere in the tree, or nil.
func (t *Tree) FindPage(id string) *Page {
	return findPage(&t.Level, id)
}

func findPage(l *Level, id string) *Page {
	for i := range l.Pages {
		if l.Pages[i].ID == id {
			return &l.Pages[i]
		}
	}
	for i := range l.Categories {
		if p := findPage(&l.Categories[i].Level, id); p != nil {
			return p
		}
	}
	return nil
}

// FindLevel returns the level addressed by categoryID, or the root level
// when categoryID is empty. Returns nil when no such category exists.
func (t *Tree) FindLevel(categoryID string) *Level {
	if categoryID == "" {
		return &t.Level
	}
	return findLevel(&t.Level, categoryID)
}

func findLevel(l *Level, id string) *Level {
	for i := range l.Categories {
		if l.Categories[i].ID == id {
			return &l.Categories[i].Level
		}
		if sub := findLevel(&l.Categories[i].Level, id); sub != nil {
			return sub
		}
	}
	return nil
}

// CountPages returns the number of pages in the whole tree.
func (t Tree) CountPages() int {
	return countPages(t.Level)
}

func countPages(l Level) int {
	n := len(l.Pages)
	for _, c := range l.Categories {
		n += countPages(c.Level)
	}
	return n
}

// MarshalCompact renders the tree as compact JSON, the form used on the
// wire and in the room store.
func (t Tree) MarshalCompact() ([]byte, error) {
	return json.Marshal(t)
}
