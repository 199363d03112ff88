package cache

import (
	"container/list"
	"sync"
)

// LRU is a byte-bounded least-recently-used block cache.
type LRU struct {
	mu       sync.Mutex
	capacity int
	usage    int
	order    *list.List
	items    map[BlockKey]*list.Element
}

type lruEntry struct {
	key   BlockKey
	block []byte
}

// NewLRU creates an LRU cache bounded to capacity bytes of block data.
func NewLRU(capacity int) *LRU {
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[BlockKey]*list.Element),
	}
}

func (c *LRU) Get(key BlockKey) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).block
}

func (c *LRU) Put(key BlockKey, block []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*lruEntry)
		c.usage += len(block) - len(ent.block)
		ent.block = block
		c.order.MoveToFront(elem)
		c.evict()
		return
	}

	elem := c.order.PushFront(&lruEntry{key: key, block: block})
	c.items[key] = elem
	c.usage += len(block)
	c.evict()
}

func (c *LRU) evict() {
	for c.usage > c.capacity && c.order.Len() > 0 {
		elem := c.order.Back()
		ent := elem.Value.(*lruEntry)
		c.order.Remove(elem)
		delete(c.items, ent.key)
		c.usage -= len(ent.block)
	}
}
