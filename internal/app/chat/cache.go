package chat

import (
	"sync"

	domainchat "marketchat/internal/domain/chat"
)

// Cache maps a two-party key to its resolved conversation id.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

func (c *Cache) Get(selfID, otherID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[domainchat.PairKey(selfID, otherID)]
	return id, ok
}

func (c *Cache) Put(selfID, otherID, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domainchat.PairKey(selfID, otherID)] = conversationID
}

// Clear drops every entry. Called when the authenticated identity changes.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
