package cache

import (
	"container/list"
	"sync"
	"time"
)

// Memory is a process-local LRU with per-entry TTL. It satisfies Backend for
// runs that should not touch disk.
type Memory struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	nowFn    func() time.Time

	hits   int64
	misses int64
}

type memoryEntry struct {
	key       string
	value     []byte
	createdAt time.Time
	expiresAt time.Time // zero => no TTL
}

// NewMemory creates an LRU holding at most capacity entries. capacity <= 0 is unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		nowFn:    time.Now,
	}
}

func (c *Memory) Get(key string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return Result{Hit: false}, nil
	}

	e := elem.Value.(*memoryEntry)
	now := c.nowFn()
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return Result{Hit: false}, nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return Result{Hit: true, Value: append([]byte(nil), e.value...), Age: now.Sub(e.createdAt)}, nil
}

func (c *Memory) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	stored := append([]byte(nil), value...)

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		e := elem.Value.(*memoryEntry)
		e.value = stored
		e.createdAt = now
		e.expiresAt = expiresAt
		return nil
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&memoryEntry{key: key, value: stored, createdAt: now, expiresAt: expiresAt})
	c.items[key] = elem
	return nil
}

func (c *Memory) Close() error { return nil }

// Len returns the number of items held, including expired but not yet evicted.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit and miss counts for tests; runtime lookups are counted by metrics.
func (c *Memory) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Memory) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
}

func (c *Memory) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	e := elem.Value.(*memoryEntry)
	delete(c.items, e.key)
}
