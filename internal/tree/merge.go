package tree

import "fmt"

// ImportPolicy selects how an imported tree is reconciled with the current
// one. The three policies are mutually exclusive; an import runs under
// exactly one of them and produces no hybrid state.
type ImportPolicy string

const (
	// PolicyAppend concatenates incoming children after the existing ones
	// with no matching at all.
	PolicyAppend ImportPolicy = "append"
	// PolicyMerge reconciles incoming children into existing ones by
	// identity, never deleting anything present only in the existing tree.
	PolicyMerge ImportPolicy = "merge"
	// PolicyReplace discards the existing tree in favour of the incoming one.
	PolicyReplace ImportPolicy = "replace"
)

// ParsePolicy converts a user-supplied policy name.
func ParsePolicy(s string) (ImportPolicy, error) {
	switch ImportPolicy(s) {
	case PolicyAppend, PolicyMerge, PolicyReplace:
		return ImportPolicy(s), nil
	}
	return "", fmt.Errorf("tree: unknown import policy %q", s)
}

// Import reconciles incoming into existing under the given policy and
// returns the result. Neither argument is mutated.
func Import(existing, incoming Tree, policy ImportPolicy) (Tree, error) {
	switch policy {
	case PolicyAppend:
		out := existing.Clone()
		for _, c := range incoming.Categories {
			out.Categories = append(out.Categories, c.Clone())
		}
		for _, p := range incoming.Pages {
			out.Pages = append(out.Pages, p.Clone())
		}
		return out, nil

	case PolicyMerge:
		var out Tree
		out.Categories = MergeCategories(existing.Categories, incoming.Categories)
		out.Pages = MergePages(existing.Pages, incoming.Pages)
		if existing.Order != nil {
			out.Order = append([]OrderEntry(nil), existing.Order...)
		}
		return out, nil

	case PolicyReplace:
		return incoming.Clone(), nil
	}
	return Tree{}, fmt.Errorf("tree: unknown import policy %q", policy)
}

// MergeCategories reconciles incoming categories into existing ones. An
// incoming category matches by id first, falling back to exact name; the
// first match in array order wins. Matched categories take the incoming
// name and merge children recursively; unmatched ones are appended as deep
// copies. Nothing present only in existing is ever removed, and existing
// array positions never change, so a stored order stays valid.
func MergeCategories(existing, incoming []Category) []Category {
	out := make([]Category, len(existing))
	for i, c := range existing {
		out[i] = c.Clone()
	}
	for _, inc := range incoming {
		i := matchCategory(out, inc)
		if i < 0 {
			out = append(out, inc.Clone())
			continue
		}
		if inc.Name != "" {
			out[i].Name = inc.Name
		}
		out[i].Pages = MergePages(out[i].Pages, inc.Pages)
		out[i].Categories = MergeCategories(out[i].Categories, inc.Categories)
	}
	return out
}

// MergePages reconciles incoming pages into existing ones. Match priority:
// id, then exact name, then source_url; a URL match only counts when both
// sides carry a non-empty URL, so two URL-less entries never false-match.
// A matched page takes every incoming field except its identity and its
// user-set visibility, which are preserved from the existing record.
// Unmatched pages are appended as deep copies; nothing is deleted.
func MergePages(existing, incoming []Page) []Page {
	out := make([]Page, len(existing))
	for i, p := range existing {
		out[i] = p.Clone()
	}
	for _, inc := range incoming {
		i := matchPage(out, inc)
		if i < 0 {
			out = append(out, inc.Clone())
			continue
		}
		keepID := out[i].ID
		if keepID == "" {
			// Legacy record without identity adopts the incoming id.
			keepID = inc.ID
		}
		keepVisible := out[i].VisibleToViewers
		out[i] = inc.Clone()
		out[i].ID = keepID
		out[i].VisibleToViewers = keepVisible
	}
	return out
}

func matchCategory(list []Category, c Category) int {
	if c.ID != "" {
		for i := range list {
			if list[i].ID == c.ID {
				return i
			}
		}
	}
	if c.Name != "" {
		for i := range list {
			if list[i].Name == c.Name {
				return i
			}
		}
	}
	return -1
}

func matchPage(list []Page, p Page) int {
	if p.ID != "" {
		for i := range list {
			if list[i].ID == p.ID {
				return i
			}
		}
	}
	if p.Name != "" {
		for i := range list {
			if list[i].Name == p.Name {
				return i
			}
		}
	}
	if p.SourceURL != "" {
		for i := range list {
			if list[i].SourceURL == p.SourceURL {
				return i
			}
		}
	}
	return -1
}
