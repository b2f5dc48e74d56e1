package eav

import "sync"

// MemoryDefinitionCache is a process-local DefinitionCache. The catalog is
// read-mostly, so a map under an RWMutex is enough; every catalog mutation
// goes through the service, which invalidates the entity type's entries.
type MemoryDefinitionCache struct {
	mu      sync.RWMutex
	entries map[string]map[string][]*AttributeDefinition
}

// NewMemoryDefinitionCache creates an empty definition cache.
func NewMemoryDefinitionCache() *MemoryDefinitionCache {
	return &MemoryDefinitionCache{
		entries: make(map[string]map[string][]*AttributeDefinition),
	}
}

func (c *MemoryDefinitionCache) Get(entityTypeID, category string) ([]*AttributeDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byCategory, ok := c.entries[entityTypeID]
	if !ok {
		return nil, false
	}
	defs, ok := byCategory[category]
	return defs, ok
}

func (c *MemoryDefinitionCache) Set(entityTypeID, category string, defs []*AttributeDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byCategory, ok := c.entries[entityTypeID]
	if !ok {
		byCategory = make(map[string][]*AttributeDefinition)
		c.entries[entityTypeID] = byCategory
	}
	byCategory[category] = defs
}

func (c *MemoryDefinitionCache) Invalidate(entityTypeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entityTypeID)
}
