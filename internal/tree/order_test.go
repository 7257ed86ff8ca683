package tree

import "testing"

func orderLevel() Level {
	return Level{
		Pages: []Page{
			{ID: "p1", Name: "Welcome"},
			{ID: "p2", Name: "House Rules"},
		},
		Categories: []Category{
			{ID: "c1", Name: "NPCs"},
			{ID: "c2", Name: "Places"},
		},
	}
}

func assertOrder(t *testing.T, got, want []OrderEntry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("order length = %d, want %d (%+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCombinedOrder_DefaultCategoriesFirst(t *testing.T) {
	l := orderLevel()
	assertOrder(t, CombinedOrder(&l), []OrderEntry{
		{KindCategory, 0}, {KindCategory, 1}, {KindPage, 0}, {KindPage, 1},
	})
}

func TestCombinedOrder_CompletesPartialOrder(t *testing.T) {
	l := orderLevel()
	l.Order = []OrderEntry{{KindPage, 1}}
	assertOrder(t, CombinedOrder(&l), []OrderEntry{
		{KindPage, 1}, {KindCategory, 0}, {KindCategory, 1}, {KindPage, 0},
	})
}

func TestCombinedOrder_DropsStaleEntries(t *testing.T) {
	l := orderLevel()
	l.Order = []OrderEntry{
		{KindPage, 5},      // out of range
		{"banana", 0},      // unknown kind
		{KindPage, -1},     // negative
		{KindPage, 0},      // fine
		{KindPage, 0},      // duplicate
		{KindCategory, 1},  // fine
	}
	assertOrder(t, CombinedOrder(&l), []OrderEntry{
		{KindPage, 0}, {KindCategory, 1}, {KindCategory, 0}, {KindPage, 1},
	})
}

// Removing a child invalidates its order entry but must not disturb the
// relative placement of the survivors.
func TestCombinedOrder_StableAfterRemoval(t *testing.T) {
	l := Level{
		Pages:      []Page{{ID: "p1", Name: "Welcome"}, {ID: "p2", Name: "House Rules"}},
		Categories: []Category{{ID: "c1", Name: "NPCs"}},
		Order:      []OrderEntry{{KindPage, 1}, {KindCategory, 0}, {KindPage, 0}},
	}

	// Drop House Rules; the stale {page,1} entry must vanish while NPCs
	// stays ahead of Welcome.
	l.Pages = l.Pages[:1]
	assertOrder(t, CombinedOrder(&l), []OrderEntry{
		{KindCategory, 0}, {KindPage, 0},
	})
}

func TestCombinedOrder_Deterministic(t *testing.T) {
	l := orderLevel()
	l.Order = []OrderEntry{{KindPage, 1}, {KindPage, 7}}
	first := CombinedOrder(&l)
	second := CombinedOrder(&l)
	assertOrder(t, second, first)
}

func TestMove_SwapsAndPersists(t *testing.T) {
	l := orderLevel()

	// Combined order starts as NPCs, Places, Welcome, House Rules.
	if !Move(&l, 2, -1) {
		t.Fatal("move up refused")
	}
	assertOrder(t, l.Order, []OrderEntry{
		{KindCategory, 0}, {KindPage, 0}, {KindCategory, 1}, {KindPage, 1},
	})
	assertOrder(t, CombinedOrder(&l), l.Order)
}

func TestMove_RejectsOutOfBounds(t *testing.T) {
	l := orderLevel()

	if Move(&l, 0, -1) {
		t.Error("first child moved above the top")
	}
	if Move(&l, 3, 1) {
		t.Error("last child moved below the bottom")
	}
	if Move(&l, 9, -1) {
		t.Error("move from a position past the end")
	}
	if Move(&l, 1, 2) {
		t.Error("move accepted a stride of two")
	}
	if Move(&l, 1, 0) {
		t.Error("move accepted a stride of zero")
	}
	if l.Order != nil {
		t.Errorf("refused moves must leave the order untouched: %+v", l.Order)
	}
}
