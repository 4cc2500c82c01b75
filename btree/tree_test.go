package btree

import (
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func newTestTree(t *testing.T) (*Tree, *Allocator) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	met, _ := NewMetrics()

	a, err := InitIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("InitIndex failed: %v", err)
	}
	c, err := NewCache(a.Device(), hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return New(a, c, hclog.NewNullLogger()), a
}

// S1 — single insert and search.
func TestTreeSingleInsertAndSearch(t *testing.T) {
	tree, a := newTestTree(t)
	defer a.Close()

	if err := tree.Insert(42, 100); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	value, ok, err := tree.Search(42)
	if err != nil {
		t.Fatalf("Search(42) failed: %v", err)
	}
	if !ok || value != 100 {
		t.Fatalf("Search(42) = (%d, %v), want (100, true)", value, ok)
	}

	_, ok, err = tree.Search(7)
	if err != nil {
		t.Fatalf("Search(7) failed: %v", err)
	}
	if ok {
		t.Fatalf("Search(7) found a value in an index that never held key 7")
	}
}

// S2 — root split boundary.
func TestTreeRootSplitBoundary(t *testing.T) {
	tree, a := newTestTree(t)
	defer a.Close()

	for k := uint64(1); k <= 19; k++ {
		if err := tree.Insert(k, k); err != nil {
			t.Fatalf("Insert(%d) failed: %v", k, err)
		}
	}

	if a.Root() != 1 {
		t.Fatalf("root after 19 inserts = %d, want 1", a.Root())
	}
	if a.Next() != 2 {
		t.Fatalf("next after 19 inserts = %d, want 2", a.Next())
	}

	if err := tree.Insert(20, 20); err != nil {
		t.Fatalf("Insert(20) failed: %v", err)
	}

	if a.Root() != 2 {
		t.Fatalf("root after 20th insert = %d, want 2", a.Root())
	}
	if a.Next() != 4 {
		t.Fatalf("next after 20th insert = %d, want 4", a.Next())
	}

	root, err := a.Device().ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock(2) failed: %v", err)
	}
	rootNode, err := DecodeNode(root)
	if err != nil {
		t.Fatalf("DecodeNode(2) failed: %v", err)
	}
	if len(rootNode.Keys) != 1 || rootNode.Keys[0] != 10 {
		t.Fatalf("new root keys = %v, want [10]", rootNode.Keys)
	}

	left, err := a.Device().ReadBlock(1)
	if err != nil {
		t.Fatalf("ReadBlock(1) failed: %v", err)
	}
	leftNode, err := DecodeNode(left)
	if err != nil {
		t.Fatalf("DecodeNode(1) failed: %v", err)
	}
	if len(leftNode.Keys) != 9 {
		t.Fatalf("left child has %d keys, want 9", len(leftNode.Keys))
	}

	right, err := a.Device().ReadBlock(3)
	if err != nil {
		t.Fatalf("ReadBlock(3) failed: %v", err)
	}
	rightNode, err := DecodeNode(right)
	if err != nil {
		t.Fatalf("DecodeNode(3) failed: %v", err)
	}
	if len(rightNode.Keys) != 10 {
		t.Fatalf("right child has %d keys, want 10", len(rightNode.Keys))
	}

	var got []uint64
	err = tree.InOrder(func(k, v uint64) error {
		if k != v {
			t.Fatalf("in-order pair (%d, %d): key and value should match", k, v)
		}
		got = append(got, k)
		return nil
	})
	if err != nil {
		t.Fatalf("InOrder failed: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("in-order dump has %d entries, want 20", len(got))
	}
	for i, k := range got {
		if k != uint64(i+1) {
			t.Fatalf("in-order dump[%d] = %d, want %d", i, k, i+1)
		}
	}
}

// S3 — bulk load, out of order.
func TestTreeBulkLoadOutOfOrder(t *testing.T) {
	tree, a := newTestTree(t)
	defer a.Close()

	input := [][2]uint64{{5, 50}, {3, 30}, {8, 80}, {1, 10}, {9, 90}, {2, 20}, {7, 70}, {4, 40}, {6, 60}}
	for _, p := range input {
		if err := tree.Insert(p[0], p[1]); err != nil {
			t.Fatalf("Insert(%d, %d) failed: %v", p[0], p[1], err)
		}
	}

	var got [][2]uint64
	err := tree.InOrder(func(k, v uint64) error {
		got = append(got, [2]uint64{k, v})
		return nil
	})
	if err != nil {
		t.Fatalf("InOrder failed: %v", err)
	}

	want := [][2]uint64{{1, 10}, {2, 20}, {3, 30}, {4, 40}, {5, 50}, {6, 60}, {7, 70}, {8, 80}, {9, 90}}
	if len(got) != len(want) {
		t.Fatalf("in-order dump has %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("in-order dump[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTreeSearchEmptyIndex(t *testing.T) {
	tree, a := newTestTree(t)
	defer a.Close()

	_, ok, err := tree.Search(1)
	if err != nil {
		t.Fatalf("Search on empty tree failed: %v", err)
	}
	if ok {
		t.Fatalf("Search on empty tree unexpectedly found a value")
	}
}

func TestTreeManySplitsPreserveOrder(t *testing.T) {
	tree, a := newTestTree(t)
	defer a.Close()

	const n = 500
	for k := uint64(0); k < n; k++ {
		// Insert in a shuffled-looking but deterministic order to exercise
		// splits away from the edges of each node.
		key := (k * 97) % n
		if err := tree.Insert(key, key*2); err != nil {
			t.Fatalf("Insert(%d) failed: %v", key, err)
		}
	}

	var last uint64
	count := 0
	seenFirst := false
	err := tree.InOrder(func(k, v uint64) error {
		if v != k*2 {
			t.Fatalf("pair (%d, %d): expected value %d", k, v, k*2)
		}
		if seenFirst && k <= last {
			t.Fatalf("in-order dump not strictly increasing at key %d after %d", k, last)
		}
		last = k
		seenFirst = true
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("InOrder failed: %v", err)
	}
	if count != n {
		t.Fatalf("in-order dump has %d entries, want %d", count, n)
	}

	for k := uint64(0); k < n; k++ {
		value, ok, err := tree.Search(k)
		if err != nil {
			t.Fatalf("Search(%d) failed: %v", k, err)
		}
		if !ok || value != k*2 {
			t.Fatalf("Search(%d) = (%d, %v), want (%d, true)", k, value, ok, k*2)
		}
	}
}
