package tree

// CombinedOrder returns the repaired interleaved display order for one
// level without mutating it. Stored entries are kept in sequence; entries
// with an unknown kind, a negative or out-of-range index, or a (kind,
// index) pair already seen are dropped. Children the stored order does not
// cover are appended afterwards: categories in array order first, then
// pages in array order, which is also the full synthesized default when
// no order is stored. The result is deterministic, so reading twice
// without an underlying change yields identical sequences.
func CombinedOrder(l *Level) []OrderEntry {
	out := make([]OrderEntry, 0, len(l.Pages)+len(l.Categories))
	seenPages := make(map[int]bool, len(l.Pages))
	seenCats := make(map[int]bool, len(l.Categories))

	for _, e := range l.Order {
		switch e.Kind {
		case KindPage:
			if e.Index < 0 || e.Index >= len(l.Pages) || seenPages[e.Index] {
				continue
			}
			seenPages[e.Index] = true
		case KindCategory:
			if e.Index < 0 || e.Index >= len(l.Categories) || seenCats[e.Index] {
				continue
			}
			seenCats[e.Index] = true
		default:
			continue
		}
		out = append(out, e)
	}

	for i := range l.Categories {
		if !seenCats[i] {
			out = append(out, OrderEntry{Kind: KindCategory, Index: i})
		}
	}
	for i := range l.Pages {
		if !seenPages[i] {
			out = append(out, OrderEntry{Kind: KindPage, Index: i})
		}
	}
	return out
}

// Move swaps the child at position pos in the combined order with its
// neighbour one step in direction dir (-1 up, +1 down) and persists the
// repaired order on the level. It refuses, returning false and leaving
// the level untouched, when dir is not a single step or the swap would
// leave the order's bounds.
func Move(l *Level, pos, dir int) bool {
	if dir != -1 && dir != 1 {
		return false
	}
	order := CombinedOrder(l)
	target := pos + dir
	if pos < 0 || pos >= len(order) || target < 0 || target >= len(order) {
		return false
	}
	order[pos], order[target] = order[target], order[pos]
	l.Order = order
	return true
}
