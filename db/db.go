// Package db wires the allocator, cache, and tree engine into the
// handful of whole-file operations the command-line tool needs: create,
// open, insert, search, and an in-order dump (which the tool's print and
// extract commands both use).
package db

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/conuredb/idxtree/btree"
)

// DB is a single open index file.
type DB struct {
	path  string
	log   hclog.Logger
	met   *btree.Metrics
	alloc *btree.Allocator
	cache *btree.Cache
	tree  *btree.Tree
}

// Pair is a single key/value entry, as produced by Dump.
type Pair struct {
	Key   uint64
	Value uint64
}

// Create initializes a new, empty index file at path. It fails if a file
// already exists there.
func Create(path string, log hclog.Logger) (*DB, error) {
	met, err := btree.NewMetrics()
	if err != nil {
		return nil, err
	}
	alloc, err := btree.InitIndex(path, log, met)
	if err != nil {
		return nil, err
	}
	return open(path, log, met, alloc)
}

// Open opens an existing index file at path, validating its header.
func Open(path string, log hclog.Logger) (*DB, error) {
	met, err := btree.NewMetrics()
	if err != nil {
		return nil, err
	}
	alloc, err := btree.OpenIndex(path, log, met)
	if err != nil {
		return nil, err
	}
	return open(path, log, met, alloc)
}

func open(path string, log hclog.Logger, met *btree.Metrics, alloc *btree.Allocator) (*DB, error) {
	cache, err := btree.NewCache(alloc.Device(), log, met)
	if err != nil {
		alloc.Close()
		return nil, err
	}
	return &DB{
		path:  path,
		log:   log,
		met:   met,
		alloc: alloc,
		cache: cache,
		tree:  btree.New(alloc, cache, log),
	}, nil
}

// Insert adds the (key, value) pair. An existing equal key is not
// replaced; the new pair is stored alongside it.
func (d *DB) Insert(key, value uint64) error {
	if err := d.tree.Insert(key, value); err != nil {
		return fmt.Errorf("db: insert key=%d: %w", key, err)
	}
	return nil
}

// Search looks up key, returning (value, true, nil) on a hit and
// (0, false, nil) on a clean miss.
func (d *DB) Search(key uint64) (uint64, bool, error) {
	value, ok, err := d.tree.Search(key)
	if err != nil {
		return 0, false, fmt.Errorf("db: search key=%d: %w", key, err)
	}
	return value, ok, nil
}

// Dump returns every (key, value) pair in ascending key order.
func (d *DB) Dump() ([]Pair, error) {
	var pairs []Pair
	err := d.tree.InOrder(func(key, value uint64) error {
		pairs = append(pairs, Pair{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db: traverse: %w", err)
	}
	return pairs, nil
}

// Stats returns the accumulated operational counters for this session,
// as stable "name=count" lines.
func (d *DB) Stats() []string {
	return d.met.Summary()
}

// Path returns the index file's path.
func (d *DB) Path() string {
	return d.path
}

// Close flushes the cache, writing back any dirty node it still holds,
// and then closes the underlying file. The file is closed even if the
// flush fails.
func (d *DB) Close() error {
	if err := d.cache.Flush(); err != nil {
		d.alloc.Close()
		return fmt.Errorf("db: close: %w", err)
	}
	return d.alloc.Close()
}
