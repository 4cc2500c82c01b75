package btree

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Allocator owns the file header (magic, root, next) and the block
// device beneath it. Every allocation persists the header before the
// caller can mutate the newly allocated block further, so a crash
// mid-insert still leaves `next` consistent with a recoverable skeleton
// at the new block.
type Allocator struct {
	dev *Device
	log hclog.Logger
	met *Metrics

	root BlockID
	next BlockID
}

// InitIndex creates a new index file with an empty tree. It fails if the
// file already exists.
func InitIndex(path string, log hclog.Logger, met *Metrics) (*Allocator, error) {
	dev, err := createDevice(path)
	if err != nil {
		return nil, fmt.Errorf("btree: create index: %w", err)
	}
	a := &Allocator{dev: dev, log: log, met: met, root: 0, next: 1}
	if err := a.persistHeader(); err != nil {
		dev.Close()
		return nil, err
	}
	log.Debug("initialized index file", "path", path)
	return a, nil
}

// OpenIndex opens an existing index file, validating its header. It
// fails if the file does not exist, is shorter than one block, or has a
// bad magic marker.
func OpenIndex(path string, log hclog.Logger, met *Metrics) (*Allocator, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("btree: index %q does not exist", path)
		}
		return nil, err
	}

	dev, err := openDevice(path)
	if err != nil {
		return nil, fmt.Errorf("btree: open index: %w", err)
	}

	buf, err := dev.ReadBlock(0)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("btree: read header: %w", err)
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("btree: %q is not a valid index: %w", path, err)
	}

	log.Debug("opened index file", "path", path, "root", hdr.Root, "next", hdr.Next)
	return &Allocator{dev: dev, log: log, met: met, root: hdr.Root, next: hdr.Next}, nil
}

// Device returns the block device beneath this allocator.
func (a *Allocator) Device() *Device {
	return a.dev
}

// Root returns the current root block id (0 if the tree is empty).
func (a *Allocator) Root() BlockID {
	return a.root
}

// Next returns the next block id that Allocate will hand out.
func (a *Allocator) Next() BlockID {
	return a.next
}

// SetRoot updates and persists the root block id.
func (a *Allocator) SetRoot(id BlockID) error {
	a.root = id
	return a.persistHeader()
}

// Allocate returns the current next block id, increments it, persists
// the header, and writes an all-zero, self-identifying node skeleton at
// the new block so subsequent reads are well-formed.
func (a *Allocator) Allocate() (BlockID, error) {
	id := a.next
	a.next++
	if err := a.persistHeader(); err != nil {
		a.next--
		return 0, err
	}

	skeleton := &Node{ID: id}
	buf, err := EncodeNode(skeleton)
	if err != nil {
		return 0, err
	}
	if err := a.dev.WriteBlock(id, buf); err != nil {
		return 0, err
	}

	a.met.incr("allocate")
	a.log.Debug("allocated block", "id", id, "next", a.next)
	return id, nil
}

func (a *Allocator) persistHeader() error {
	buf := EncodeHeader(Header{Root: a.root, Next: a.next})
	return a.dev.WriteBlock(0, buf)
}

// Close closes the underlying device.
func (a *Allocator) Close() error {
	return a.dev.Close()
}
