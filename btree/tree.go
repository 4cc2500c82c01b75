package btree

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Tree is the B-tree engine. It never addresses the block device
// directly; every node access goes through the cache, and every
// mutating operation re-acquires node handles after any cache call that
// may have evicted them — the cache's capacity-3 stress means a node
// fetched two cache calls ago may already be gone.
type Tree struct {
	alloc *Allocator
	cache *Cache
	log   hclog.Logger
}

// New builds a tree engine over alloc and cache.
func New(alloc *Allocator, cache *Cache, log hclog.Logger) *Tree {
	return &Tree{alloc: alloc, cache: cache, log: log}
}

// Search looks up key, descending from the root. It returns
// (value, true, nil) on a hit, (0, false, nil) on a clean miss, and a
// non-nil error only on structural corruption or I/O failure.
func (t *Tree) Search(key uint64) (uint64, bool, error) {
	id := t.alloc.Root()
	if id == 0 {
		return 0, false, nil
	}

	for {
		node, err := t.cache.Get(id)
		if err != nil {
			return 0, false, err
		}

		i := 0
		for i < len(node.Keys) && key > node.Keys[i] {
			i++
		}
		if i < len(node.Keys) && node.Keys[i] == key {
			return node.Values[i], true, nil
		}
		if node.IsLeaf() {
			return 0, false, nil
		}
		if i >= len(node.Children) || node.Children[i] == 0 {
			return 0, false, fmt.Errorf("btree: corrupt index: node %d has no child at position %d", id, i)
		}
		id = node.Children[i]
	}
}

// Insert adds (key, value). An existing equal key is not replaced: the
// new pair is stored alongside it, and Search returns whichever copy its
// descent reaches first. Preemptive top-down splitting
// guarantees insert_non_full never descends into a full child: the root
// is split first if full, and every full child is split before the
// recursion enters it.
//
// Insert flushes every node it touched and only then persists a root
// update, so the header's root is never advanced past un-flushed node
// writes (see the ordering requirement in spec.md §5).
func (t *Tree) Insert(key, value uint64) error {
	root := t.alloc.Root()

	if root == 0 {
		id, err := t.alloc.Allocate()
		if err != nil {
			return err
		}
		node := &Node{ID: id, Keys: []uint64{key}, Values: []uint64{value}, Dirty: true}
		if err := t.cache.Put(node); err != nil {
			return err
		}
		if err := t.cache.Flush(); err != nil {
			return err
		}
		return t.alloc.SetRoot(id)
	}

	rootNode, err := t.cache.Get(root)
	if err != nil {
		return err
	}

	newRoot := root
	if len(rootNode.Keys) == MaxKeys {
		newRootID, err := t.alloc.Allocate()
		if err != nil {
			return err
		}
		rootNode.Parent = newRootID
		rootNode.Dirty = true
		if err := t.cache.Put(rootNode); err != nil {
			return err
		}

		parent := &Node{ID: newRootID, Children: []BlockID{root}, Dirty: true}
		if err := t.cache.Put(parent); err != nil {
			return err
		}

		if err := t.splitChild(newRootID, 0); err != nil {
			return err
		}
		if err := t.insertNonFull(newRootID, key, value); err != nil {
			return err
		}
		newRoot = newRootID
	} else {
		if err := t.insertNonFull(root, key, value); err != nil {
			return err
		}
	}

	if err := t.cache.Flush(); err != nil {
		return err
	}
	if newRoot != root {
		return t.alloc.SetRoot(newRoot)
	}
	return nil
}

// insertNonFull inserts (key, value) into the subtree rooted at nodeID,
// which must not be full. It re-fetches nodeID by id after every cache
// call that could have evicted it.
func (t *Tree) insertNonFull(nodeID BlockID, key, value uint64) error {
	node, err := t.cache.Get(nodeID)
	if err != nil {
		return err
	}

	if node.IsLeaf() {
		pos := len(node.Keys)
		for pos > 0 && node.Keys[pos-1] > key {
			pos--
		}
		node.Keys = append(node.Keys, 0)
		node.Values = append(node.Values, 0)
		copy(node.Keys[pos+1:], node.Keys[pos:len(node.Keys)-1])
		copy(node.Values[pos+1:], node.Values[pos:len(node.Values)-1])
		node.Keys[pos] = key
		node.Values[pos] = value
		node.Dirty = true
		return t.cache.Put(node)
	}

	// Scan right-to-left for the child whose subtree covers key: the
	// smallest i with key <= keys[i], defaulting to num_keys.
	i := len(node.Keys)
	for i > 0 && key <= node.Keys[i-1] {
		i--
	}

	childID := node.Children[i]
	child, err := t.cache.Get(childID)
	if err != nil {
		return err
	}

	if len(child.Keys) == MaxKeys {
		if err := t.splitChild(nodeID, i); err != nil {
			return err
		}
		// Re-fetch: splitChild touched several nodes through the
		// capacity-3 cache, so our handle on node may be stale.
		node, err = t.cache.Get(nodeID)
		if err != nil {
			return err
		}
		if key > node.Keys[i] {
			i++
		}
		childID = node.Children[i]
	}

	return t.insertNonFull(childID, key, value)
}

// splitChild splits the full child at parent.Children[i], promoting its
// median key/value into the parent at position i and inserting the new
// right sibling at parent.Children[i+1].
func (t *Tree) splitChild(parentID BlockID, i int) error {
	parent, err := t.cache.Get(parentID)
	if err != nil {
		return err
	}
	fullID := parent.Children[i]

	full, err := t.cache.Get(fullID)
	if err != nil {
		return err
	}
	if len(full.Keys) != MaxKeys {
		return fmt.Errorf("btree: splitChild called on node %d with %d keys, want %d", fullID, len(full.Keys), MaxKeys)
	}

	const mid = T - 1 // 9
	medianKey, medianValue := full.Keys[mid], full.Values[mid]

	rightKeys := append([]uint64(nil), full.Keys[mid+1:]...)
	rightValues := append([]uint64(nil), full.Values[mid+1:]...)
	var rightChildren []BlockID
	if !full.IsLeaf() {
		rightChildren = append([]BlockID(nil), full.Children[mid+1:]...)
	}

	newID, err := t.alloc.Allocate()
	if err != nil {
		return err
	}
	newNode := &Node{
		ID:       newID,
		Parent:   parentID,
		Keys:     rightKeys,
		Values:   rightValues,
		Children: rightChildren,
		Dirty:    true,
	}
	if err := t.cache.Put(newNode); err != nil {
		return err
	}

	for _, cid := range rightChildren {
		child, err := t.cache.Get(cid)
		if err != nil {
			return err
		}
		child.Parent = newID
		child.Dirty = true
		if err := t.cache.Put(child); err != nil {
			return err
		}
	}

	// Re-fetch full: the children reparenting loop above may have
	// evicted it from the capacity-3 cache.
	full, err = t.cache.Get(fullID)
	if err != nil {
		return err
	}
	full.Keys = append([]uint64(nil), full.Keys[:mid]...)
	full.Values = append([]uint64(nil), full.Values[:mid]...)
	if !full.IsLeaf() {
		full.Children = append([]BlockID(nil), full.Children[:mid+1]...)
	}
	full.Dirty = true
	if err := t.cache.Put(full); err != nil {
		return err
	}

	// Re-fetch parent: every cache call since our first Get(parentID)
	// may have evicted it.
	parent, err = t.cache.Get(parentID)
	if err != nil {
		return err
	}
	parent.Keys = insertAt(parent.Keys, i, medianKey)
	parent.Values = insertAt(parent.Values, i, medianValue)
	parent.Children = insertChildAt(parent.Children, i+1, newID)
	parent.Dirty = true
	t.met().incr("split")
	return t.cache.Put(parent)
}

func (t *Tree) met() *Metrics {
	return t.cache.met
}

func insertAt(s []uint64, i int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[i+1:], s[i:len(s)-1])
	s[i] = v
	return s
}

func insertChildAt(s []BlockID, i int, v BlockID) []BlockID {
	s = append(s, 0)
	copy(s[i+1:], s[i:len(s)-1])
	s[i] = v
	return s
}

// InOrder visits every (key, value) pair in strictly increasing key
// order. It stops and returns visit's error if visit returns one.
func (t *Tree) InOrder(visit func(key, value uint64) error) error {
	root := t.alloc.Root()
	if root == 0 {
		return nil
	}
	return t.inorder(root, visit)
}

func (t *Tree) inorder(id BlockID, visit func(key, value uint64) error) error {
	if id == 0 {
		return nil
	}

	node, err := t.cache.Get(id)
	if err != nil {
		return err
	}
	n := len(node.Keys)

	for i := 0; i <= n; i++ {
		// Re-fetch on every iteration: recursing into a child may have
		// evicted this node from the capacity-3 cache.
		node, err = t.cache.Get(id)
		if err != nil {
			return err
		}
		if !node.IsLeaf() && i < len(node.Children) && node.Children[i] != 0 {
			if err := t.inorder(node.Children[i], visit); err != nil {
				return err
			}
		}
		if i < n {
			node, err = t.cache.Get(id)
			if err != nil {
				return err
			}
			if err := visit(node.Keys[i], node.Values[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
