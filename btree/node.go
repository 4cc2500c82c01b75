// Package btree implements a disk-resident B-tree index of unsigned
// 64-bit key/value pairs, stored as fixed 512-byte blocks in a single
// file.
package btree

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the fixed size, in bytes, of every block in the index
	// file, including the header block.
	BlockSize = 512

	// Magic is the eight-byte literal written at offset 0 of every index
	// file, identifying it as a valid index.
	Magic = "4348PRJ3"

	// T is the B-tree's minimum degree. A non-root node holds between
	// T-1 and 2T-1 keys.
	T = 10

	// MaxKeys is the maximum number of keys a node may hold (2T-1).
	MaxKeys = 2*T - 1

	// MaxChildren is the maximum number of child pointers a node may
	// hold (2T).
	MaxChildren = 2 * T
)

const (
	headerOffsetMagic = 0
	headerOffsetRoot   = 8
	headerOffsetNext   = 16

	nodeOffsetID       = 0
	nodeOffsetParent   = 8
	nodeOffsetNumKeys  = 16
	nodeOffsetKeys     = 24
	nodeOffsetValues   = nodeOffsetKeys + MaxKeys*8   // 176
	nodeOffsetChildren = nodeOffsetValues + MaxKeys*8 // 328
)

var (
	// ErrBadMagic is returned when a header block's magic marker does
	// not match Magic.
	ErrBadMagic = errors.New("btree: bad magic marker")

	// ErrShortBlock is returned when a buffer handed to a decoder is
	// smaller than BlockSize.
	ErrShortBlock = errors.New("btree: block shorter than 512 bytes")
)

// BlockID identifies a block in the index file. Block 0 is always the
// header. A child slot value of 0 means "no child".
type BlockID uint64

// Header is the content of block 0.
type Header struct {
	Root BlockID
	Next BlockID
}

// EncodeHeader serializes a header to a fresh, zero-filled 512-byte block.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, BlockSize)
	copy(buf[headerOffsetMagic:], Magic)
	binary.BigEndian.PutUint64(buf[headerOffsetRoot:], uint64(h.Root))
	binary.BigEndian.PutUint64(buf[headerOffsetNext:], uint64(h.Next))
	return buf
}

// DecodeHeader parses a header block, validating the magic marker.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < BlockSize {
		return Header{}, ErrShortBlock
	}
	if string(buf[headerOffsetMagic:headerOffsetMagic+len(Magic)]) != Magic {
		return Header{}, ErrBadMagic
	}
	return Header{
		Root: BlockID(binary.BigEndian.Uint64(buf[headerOffsetRoot:])),
		Next: BlockID(binary.BigEndian.Uint64(buf[headerOffsetNext:])),
	}, nil
}

// Node is a single B-tree node, held in memory by the cache and mutated
// only through it. Keys and values have length num_keys; children has
// length num_keys+1 unless the node is a leaf, in which case it is nil.
type Node struct {
	ID       BlockID
	Parent   BlockID
	Keys     []uint64
	Values   []uint64
	Children []BlockID

	// Dirty marks mutations not yet written back to disk. The cache
	// inspects this only at write-back points (eviction, flush); it
	// never clears it except after a successful write.
	Dirty bool
}

// IsLeaf reports whether the node is a leaf, per the on-disk convention:
// a node is a leaf iff all of its child slots are zero.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// NumKeys returns the number of keys currently held by the node.
func (n *Node) NumKeys() int {
	return len(n.Keys)
}

// EncodeNode serializes a node to a fresh, zero-filled 512-byte block.
func EncodeNode(n *Node) ([]byte, error) {
	if len(n.Keys) > MaxKeys {
		return nil, fmt.Errorf("btree: node %d has %d keys, exceeds max %d", n.ID, len(n.Keys), MaxKeys)
	}
	buf := make([]byte, BlockSize)
	binary.BigEndian.PutUint64(buf[nodeOffsetID:], uint64(n.ID))
	binary.BigEndian.PutUint64(buf[nodeOffsetParent:], uint64(n.Parent))
	binary.BigEndian.PutUint64(buf[nodeOffsetNumKeys:], uint64(len(n.Keys)))

	for i := 0; i < MaxKeys; i++ {
		var k uint64
		if i < len(n.Keys) {
			k = n.Keys[i]
		}
		binary.BigEndian.PutUint64(buf[nodeOffsetKeys+i*8:], k)
	}
	for i := 0; i < MaxKeys; i++ {
		var v uint64
		if i < len(n.Values) {
			v = n.Values[i]
		}
		binary.BigEndian.PutUint64(buf[nodeOffsetValues+i*8:], v)
	}
	for i := 0; i < MaxChildren; i++ {
		var c BlockID
		if i < len(n.Children) {
			c = n.Children[i]
		}
		binary.BigEndian.PutUint64(buf[nodeOffsetChildren+i*8:], uint64(c))
	}

	return buf, nil
}

// DecodeNode parses a node block. Keys and values are trimmed to
// num_keys; children is trimmed to num_keys+1, or nil if every child
// slot on disk is zero (the node is then a leaf, regardless of
// num_keys).
func DecodeNode(buf []byte) (*Node, error) {
	if len(buf) < BlockSize {
		return nil, ErrShortBlock
	}

	numKeys := binary.BigEndian.Uint64(buf[nodeOffsetNumKeys:])
	if numKeys > MaxKeys {
		return nil, fmt.Errorf("btree: node has impossible num_keys=%d", numKeys)
	}

	n := &Node{
		ID:     BlockID(binary.BigEndian.Uint64(buf[nodeOffsetID:])),
		Parent: BlockID(binary.BigEndian.Uint64(buf[nodeOffsetParent:])),
	}

	n.Keys = make([]uint64, numKeys)
	for i := range n.Keys {
		n.Keys[i] = binary.BigEndian.Uint64(buf[nodeOffsetKeys+i*8:])
	}
	n.Values = make([]uint64, numKeys)
	for i := range n.Values {
		n.Values[i] = binary.BigEndian.Uint64(buf[nodeOffsetValues+i*8:])
	}

	children := make([]BlockID, MaxChildren)
	allZero := true
	for i := range children {
		children[i] = BlockID(binary.BigEndian.Uint64(buf[nodeOffsetChildren+i*8:]))
		if children[i] != 0 {
			allZero = false
		}
	}
	if allZero {
		n.Children = nil
	} else {
		n.Children = children[:numKeys+1]
	}

	return n, nil
}
