package tree

// FilterVisible returns the viewer-facing projection of t: pages with
// VisibleToViewers unset are removed, categories left with no visible
// descendants are pruned, and every order entry is remapped to the surviving
// arrays so relative placement is preserved. The input is never mutated.
func FilterVisible(t *Tree) Tree {
	return Tree{Level: filterLevel(&t.Level)}
}

func filterLevel(l *Level) Level {
	out := Level{Pages: []Page{}, Categories: []Category{}}

	// Walk the combined order so surviving items keep their relative
	// placement even when the stored order was partial.
	for _, e := range CombinedOrder(l) {
		switch e.Kind {
		case KindPage:
			p := l.Pages[e.Index]
			if !p.VisibleToViewers {
				continue
			}
			out.Order = append(out.Order, OrderEntry{Kind: KindPage, Index: len(out.Pages)})
			out.Pages = append(out.Pages, p.Clone())
		case KindCategory:
			sub := filterLevel(&l.Categories[e.Index].Level)
			if countPages(sub) == 0 {
				continue
			}
			c := l.Categories[e.Index]
			out.Order = append(out.Order, OrderEntry{Kind: KindCategory, Index: len(out.Categories)})
			out.Categories = append(out.Categories, Category{ID: c.ID, Name: c.Name, Level: sub})
		}
	}
	return out
}
