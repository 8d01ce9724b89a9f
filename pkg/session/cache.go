package session

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/mcps/deep-thinking/pkg/models"
)

// cache is a bounded LRU map of hot sessions. The store stays
// authoritative; eviction just drops the in-memory copy.
type cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type cacheSlot struct {
	id   string
	sess *models.Session
}

func newCache(capacity int) *cache {
	if capacity < 1 {
		capacity = 1
	}
	return &cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *cache) get(id string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheSlot).sess, true
}

func (c *cache) put(id string, sess *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheSlot).sess = sess
		return
	}

	elem := c.order.PushFront(&cacheSlot{id: id, sess: sess})
	c.entries[id] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheSlot).id)
	}
}

func (c *cache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.order.Remove(elem)
		delete(c.entries, id)
	}
}

// locks provides per-session mutual exclusion, striped so the lock table
// stays fixed-size. Operations on different sessions almost never share a
// stripe; operations on the same session always do.
type locks struct {
	stripes [64]sync.Mutex
}

func (l *locks) lock(id string) *sync.Mutex {
	mu := &l.stripes[xxhash.Sum64String(id)%uint64(len(l.stripes))]
	mu.Lock()
	return mu
}
