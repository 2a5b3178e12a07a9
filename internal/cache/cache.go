// Package cache provides the bounded in-memory caches the pipeline owns
// explicitly: extraction results per page and translation results per
// content hash. Eviction is oldest-insertion-first.
package cache

import (
	"container/list"
	"sync"
)

type entry struct {
	key   string
	value string
}

// Cache is a bounded string cache, safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

// New creates a cache holding at most max entries. max <= 0 means 256.
func New(max int) *Cache {
	if max <= 0 {
		max = 256
	}
	return &Cache{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return el.Value.(entry).value, true
}

func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value = entry{key: key, value: value}
		return
	}
	c.entries[key] = c.order.PushBack(entry{key: key, value: value})
	for c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(entry).key)
	}
}

// DeletePrefix drops every entry whose key starts with prefix. Used to clear
// a job's entries when the job is retried.
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(entry)
		if len(e.key) >= len(prefix) && e.key[:len(prefix)] == prefix {
			c.order.Remove(el)
			delete(c.entries, e.key)
		}
		el = next
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
