package remotehook

import "sync"

// Cache maps names to resolved addresses. It is safe for concurrent use
// and may be shared by many hooks.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]uintptr
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]uintptr)}
}

func (c *Cache) IsCached(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

func (c *Cache) Set(name string, address uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = address
}

func (c *Cache) Get(name string) (uintptr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	address, ok := c.entries[name]
	return address, ok
}

// Forget drops one entry, for addresses known to be stale.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
