package tree

import (
	"encoding/json"
	"fmt"
)

// Validate reports the first structural problem in t: a duplicate non-empty
// id, or an order entry that names an unknown kind. Nil child arrays and
// out-of-range order indices are not errors; Normalize and CombinedOrder
// repair those on the fly.
func Validate(t *Tree) error {
	seen := make(map[string]bool)
	return validateLevel(&t.Level, seen, "")
}

func validateLevel(l *Level, seen map[string]bool, at string) error {
	for _, e := range l.Order {
		if e.Kind != KindPage && e.Kind != KindCategory {
			return fmt.Errorf("tree: order entry with unknown kind %q at %q", e.Kind, at)
		}
	}
	for i := range l.Pages {
		id := l.Pages[i].ID
		if id == "" {
			continue
		}
		if seen[id] {
			return fmt.Errorf("tree: duplicate id %q at %q", id, at)
		}
		seen[id] = true
	}
	for i := range l.Categories {
		c := &l.Categories[i]
		if c.ID != "" {
			if seen[c.ID] {
				return fmt.Errorf("tree: duplicate id %q at %q", c.ID, at)
			}
			seen[c.ID] = true
		}
		if err := validateLevel(&c.Level, seen, c.Name); err != nil {
			return err
		}
	}
	return nil
}

// Normalize deterministically repairs the minimum necessary fields of an
// externally supplied tree in place: nil child arrays become empty, order
// entries with unknown kinds or negative indices are dropped, and the later
// of two records sharing an id loses it (a fresh one is assigned when the
// tree enters the store). Normalize never fails.
func Normalize(t *Tree) {
	seen := make(map[string]bool)
	normalizeLevel(&t.Level, seen)
}

func normalizeLevel(l *Level, seen map[string]bool) {
	if l.Pages == nil {
		l.Pages = []Page{}
	}
	if l.Categories == nil {
		l.Categories = []Category{}
	}
	if len(l.Order) > 0 {
		kept := l.Order[:0]
		for _, e := range l.Order {
			if (e.Kind == KindPage || e.Kind == KindCategory) && e.Index >= 0 {
				kept = append(kept, e)
			}
		}
		l.Order = kept
	}
	for i := range l.Pages {
		id := l.Pages[i].ID
		if id == "" {
			continue
		}
		if seen[id] {
			l.Pages[i].ID = ""
			continue
		}
		seen[id] = true
	}
	for i := range l.Categories {
		c := &l.Categories[i]
		if c.ID != "" {
			if seen[c.ID] {
				c.ID = ""
			} else {
				seen[c.ID] = true
			}
		}
		normalizeLevel(&c.Level, seen)
	}
}

// Decode parses raw JSON into a normalized Tree. It understands both the
// bare tree shape and the legacy export wrapper {"tree": {...}}.
// Unparseable input yields an explicitly empty tree and ok=false, never an
// error, so a damaged import degrades to "nothing configured" instead of
// failing the session.
func Decode(raw []byte) (Tree, bool) {
	var t Tree
	if err := json.Unmarshal(raw, &t); err == nil && !t.Empty() {
		Normalize(&t)
		return t, true
	}

	var legacy struct {
		Tree *Tree `json:"tree"`
	}
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Tree != nil {
		t = *legacy.Tree
		Normalize(&t)
		return t, true
	}

	// A valid but empty document is still a tree; only malformed JSON is
	// reported as unrepairable.
	if json.Valid(raw) {
		Normalize(&t)
		return t, true
	}
	return Tree{Level: Level{Pages: []Page{}, Categories: []Category{}}}, false
}
