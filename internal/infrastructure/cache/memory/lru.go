package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type entry struct {
	key     string
	value   domain.CacheEntry
	expires time.Time
	element *list.Element
}

// LRU is an in-process fallback cache bounded by capacity. Expired entries
// are dropped lazily on access or when the capacity forces an eviction.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*entry
	order    *list.List
	now      func() time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

func (c *LRU) Get(_ context.Context, key string) (domain.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		return domain.CacheEntry{}, false
	}
	if !c.now().Before(ent.expires) {
		c.removeEntry(ent)
		return domain.CacheEntry{}, false
	}
	c.order.MoveToFront(ent.element)
	return ent.value, true
}

func (c *LRU) Set(_ context.Context, key string, value domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if ent, ok := c.items[key]; ok {
		ent.value = value
		ent.expires = expires
		c.order.MoveToFront(ent.element)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(key)
	c.items[key] = &entry{
		key:     key,
		value:   value,
		expires: expires,
		element: elem,
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.capacity)
	c.order.Init()
}

// evictOldest prefers an expired entry from the cold end before evicting the
// least recently used live one.
func (c *LRU) evictOldest() {
	now := c.now()
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		ent := c.items[elem.Value.(string)]
		if ent != nil && !now.Before(ent.expires) {
			c.removeEntry(ent)
			return
		}
	}
	if elem := c.order.Back(); elem != nil {
		if ent, ok := c.items[elem.Value.(string)]; ok {
			c.removeEntry(ent)
		}
	}
}

func (c *LRU) removeEntry(ent *entry) {
	if ent.element != nil {
		c.order.Remove(ent.element)
	}
	delete(c.items, ent.key)
}
