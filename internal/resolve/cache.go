package resolve

import (
	"container/list"
	"sync"
	"time"
)

const (
	resolutionCacheMaxEntries = 1024
	resolutionCacheTTL        = 24 * time.Hour
)

type resolutionCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type resolutionCacheEntry struct {
	key       string
	result    Result
	expiresAt time.Time
}

func newResolutionCache(maxEntries int) *resolutionCache {
	if maxEntries <= 0 {
		return nil
	}

	return &resolutionCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (c *resolutionCache) get(key string, now time.Time) (Result, bool) {
	if c == nil || key == "" {
		return Result{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}

	entry, ok := elem.Value.(*resolutionCacheEntry)
	if !ok {
		return Result{}, false
	}

	if now.After(entry.expiresAt) {
		c.removeElement(elem)

		return Result{}, false
	}

	c.order.MoveToFront(elem)

	return entry.result, true
}

func (c *resolutionCache) set(key string, result Result, expiresAt time.Time, now time.Time) {
	if c == nil || key == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry, castOk := elem.Value.(*resolutionCacheEntry)
		if !castOk {
			return
		}

		entry.result = result
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)

		return
	}

	elem := c.order.PushFront(&resolutionCacheEntry{
		key:       key,
		result:    result,
		expiresAt: expiresAt,
	})
	c.entries[key] = elem

	c.enforceSizeLimitLocked()
}

func (c *resolutionCache) enforceSizeLimitLocked() {
	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

func (c *resolutionCache) removeElement(elem *list.Element) {
	entry, ok := elem.Value.(*resolutionCacheEntry)
	if !ok {
		return
	}

	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
