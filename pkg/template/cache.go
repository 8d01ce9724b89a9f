package template

import (
	"container/list"
	"sync"
)

// renderCache is a bounded LRU cache of rendered template strings keyed
// by the xxhash of (name, sorted params). Eviction is deterministic:
// the least recently used entry goes first, under a single mutex.
type renderCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[uint64]*list.Element
}

type cacheEntry struct {
	key      uint64
	rendered string
}

func newRenderCache(capacity int) *renderCache {
	if capacity < 1 {
		capacity = 1
	}
	return &renderCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element, capacity),
	}
}

func (c *renderCache) get(key uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).rendered, true
}

func (c *renderCache) put(key uint64, rendered string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).rendered = rendered
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, rendered: rendered})
	c.entries[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *renderCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[uint64]*list.Element, c.capacity)
}

func (c *renderCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
