package serviceimpl

import (
	"strings"
	"sync"
)

// FolderCache maps logical remote paths ("Root/People/3") to folder ids.
type FolderCache struct {
	mu      sync.RWMutex
	folders map[string]string
}

func NewFolderCache() *FolderCache {
	return &FolderCache{folders: make(map[string]string)}
}

func (c *FolderCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.folders[path]
	return id, ok
}

func (c *FolderCache) Put(path, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folders[path] = id
}

// Invalidate drops path and everything below it.
func (c *FolderCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.folders {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			delete(c.folders, p)
		}
	}
}

func (c *FolderCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folders = make(map[string]string)
}

func (c *FolderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.folders)
}
