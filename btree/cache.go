package btree

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
)

// cacheCapacity is the cache's fixed capacity. Three is a deliberate
// stress on eviction correctness, not a performance tuning knob: the
// engine must work correctly when any node it isn't currently holding
// may have been evicted between two cache calls.
const cacheCapacity = 3

// Cache is a bounded, most-recently-used-at-tail mapping from block id
// to in-memory node, mediating all access to the block device. It never
// evicts and re-reads silently without a write-back: a dirty node is
// always flushed through the device before it is dropped.
//
// Built on hashicorp/golang-lru: its fixed-capacity Cache with an evict
// callback already implements "move to MRU on Get/Add" and "evict LRU
// when over capacity" exactly as specified, so eviction write-back is
// wired directly into the callback rather than hand-rolled.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	dev      *Device
	log      hclog.Logger
	met      *Metrics
	writeErr error
}

// NewCache creates a capacity-3 node cache backed by dev.
func NewCache(dev *Device, log hclog.Logger, met *Metrics) (*Cache, error) {
	c := &Cache{dev: dev, log: log, met: met}

	backing, err := lru.NewWithEvict(cacheCapacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("btree: init node cache: %w", err)
	}
	c.lru = backing
	return c, nil
}

// onEvict is golang-lru's eviction callback. It fires for the
// least-recently-used entry whenever Add/Get pushes the cache over
// capacity, and for every remaining entry when Purge is called (used by
// Flush). Any write failure here is latched and surfaced on the next
// cache call, since the callback itself cannot return an error.
func (c *Cache) onEvict(key interface{}, value interface{}) {
	node := value.(*Node)
	if !node.Dirty {
		return
	}
	c.met.incr("cache_writeback")
	if err := c.writeBack(node); err != nil && c.writeErr == nil {
		c.writeErr = err
	}
}

func (c *Cache) writeBack(node *Node) error {
	buf, err := EncodeNode(node)
	if err != nil {
		return err
	}
	if err := c.dev.WriteBlock(node.ID, buf); err != nil {
		return err
	}
	node.Dirty = false
	c.log.Trace("wrote back node", "id", node.ID)
	return nil
}

// Get returns the node at block_id, moving it to the most-recently-used
// position. On a cache miss it reads through the device and inserts at
// the MRU position, evicting the LRU entry (writing it back first, if
// dirty) when this pushes the cache over capacity.
func (c *Cache) Get(id BlockID) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.drainErr(); err != nil {
		return nil, err
	}

	if v, ok := c.lru.Get(id); ok {
		c.met.incr("cache_hit")
		return v.(*Node), nil
	}

	c.met.incr("cache_miss")
	buf, err := c.dev.ReadBlock(id)
	if err != nil {
		return nil, err
	}
	node, err := DecodeNode(buf)
	if err != nil {
		return nil, fmt.Errorf("btree: decode block %d: %w", id, err)
	}

	c.lru.Add(id, node)
	if err := c.drainErr(); err != nil {
		return nil, err
	}
	return node, nil
}

// Put inserts or replaces node at the most-recently-used position,
// evicting the LRU entry (with write-back, if dirty) if this pushes the
// cache over capacity. Put performs no write-back of its own: a freshly
// put node is only persisted once dirty and evicted or flushed.
func (c *Cache) Put(node *Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.drainErr(); err != nil {
		return err
	}

	c.lru.Add(node.ID, node)
	return c.drainErr()
}

// Flush writes back every dirty node still held and clears the cache.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	return c.drainErr()
}

// drainErr returns and clears any write-back error latched by onEvict.
func (c *Cache) drainErr() error {
	if c.writeErr == nil {
		return nil
	}
	err := c.writeErr
	c.writeErr = nil
	return err
}
