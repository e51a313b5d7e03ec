package domain

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func treeLevel(ix int) *OrderBookLevel {
	return NewOrderBookLevel(ix, Sell, decimal.NewFromInt(int64(ix)), 4)
}

func treeIxs(t *LevelTree) []int {
	var ixs []int
	t.Traverse(func(l *OrderBookLevel) { ixs = append(ixs, l.Ix) })
	return ixs
}

func TestLevelTreeOrderedTraversal(t *testing.T) {
	var tree LevelTree
	for _, ix := range []int{50, 20, 80, 10, 30, 70, 90, 25} {
		tree.Add(treeLevel(ix))
	}
	want := []int{10, 20, 25, 30, 50, 70, 80, 90}
	got := treeIxs(&tree)
	if len(got) != len(want) {
		t.Fatalf("traversal %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("traversal %v, want %v", got, want)
		}
	}
	if tree.First().Ix != 10 || tree.Last().Ix != 90 {
		t.Fatalf("First/Last = %d/%d", tree.First().Ix, tree.Last().Ix)
	}
}

func TestLevelTreeNextPrev(t *testing.T) {
	var tree LevelTree
	for _, ix := range []int{5, 1, 9, 3, 7} {
		tree.Add(treeLevel(ix))
	}
	var forward []int
	for n := tree.First(); n != nil; n = n.Next() {
		forward = append(forward, n.Ix)
	}
	var backward []int
	for n := tree.Last(); n != nil; n = n.Prev() {
		backward = append(backward, n.Ix)
	}
	for i := range forward {
		if forward[i] != backward[len(backward)-1-i] {
			t.Fatalf("forward %v is not the reverse of backward %v", forward, backward)
		}
	}
}

func TestLevelTreeFloorCeiling(t *testing.T) {
	var tree LevelTree
	for _, ix := range []int{10, 20, 30} {
		tree.Add(treeLevel(ix))
	}
	cases := []struct {
		ix            int
		floor, ceil   int
		noFloor, noCl bool
	}{
		{5, 0, 10, true, false},
		{10, 10, 10, false, false},
		{15, 10, 20, false, false},
		{30, 30, 30, false, false},
		{35, 30, 0, false, true},
	}
	for _, c := range cases {
		floor := tree.Floor(c.ix)
		ceil := tree.Ceiling(c.ix)
		if c.noFloor != (floor == nil) || (floor != nil && floor.Ix != c.floor) {
			t.Errorf("Floor(%d) = %v, want %d (none=%v)", c.ix, floor, c.floor, c.noFloor)
		}
		if c.noCl != (ceil == nil) || (ceil != nil && ceil.Ix != c.ceil) {
			t.Errorf("Ceiling(%d) = %v, want %d (none=%v)", c.ix, ceil, c.ceil, c.noCl)
		}
	}
}

func TestLevelTreeRemoveRebalances(t *testing.T) {
	var tree LevelTree
	ixs := rand.New(rand.NewSource(1)).Perm(200)
	for _, ix := range ixs {
		tree.Add(treeLevel(ix))
	}
	for _, ix := range ixs[:100] {
		if tree.Remove(ix) == nil {
			t.Fatalf("Remove(%d) found nothing", ix)
		}
	}
	if tree.Size() != 100 {
		t.Fatalf("Size = %d, want 100", tree.Size())
	}
	got := treeIxs(&tree)
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("traversal out of order at %d: %v", i, got)
		}
	}
	for _, ix := range ixs[:100] {
		if tree.Get(ix) != nil {
			t.Fatalf("removed level %d still present", ix)
		}
	}
}

func TestLevelTreeEqualIgnoresShape(t *testing.T) {
	var ascending, shuffled LevelTree
	for ix := 0; ix < 50; ix++ {
		lvl := treeLevel(ix)
		lvl.AddOrder(OrderId(ix), 7, big.NewInt(int64(ix+1)), 500)
		ascending.Add(lvl)
	}
	for _, ix := range rand.New(rand.NewSource(7)).Perm(50) {
		lvl := treeLevel(ix)
		lvl.AddOrder(OrderId(ix), 7, big.NewInt(int64(ix+1)), 500)
		shuffled.Add(lvl)
	}
	if !ascending.Equal(&shuffled) {
		t.Fatal("trees with identical content must be equal regardless of insertion order")
	}
	if ascending.Hash() != shuffled.Hash() {
		t.Fatal("equal trees must hash equal")
	}
	shuffled.Remove(25)
	if ascending.Equal(&shuffled) {
		t.Fatal("trees with different content must differ")
	}
}
