package app

import (
	"sync"

	"github.com/bft-labs/upshift/internal/domain"
)

// Catalog holds the loaded upgrade definitions. It is replaced wholesale on
// every refresh; readers always see either the old or the new set.
type Catalog struct {
	mu    sync.RWMutex
	defs  []domain.UpgradeDefinition
	index map[string]int
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Replace swaps in a new set of definitions, preserving their order.
// When an id appears more than once the first occurrence wins.
// Returns the ids that were dropped as duplicates.
func (c *Catalog) Replace(defs []domain.UpgradeDefinition) []string {
	next := make([]domain.UpgradeDefinition, 0, len(defs))
	index := make(map[string]int, len(defs))
	var dropped []string
	for _, d := range defs {
		if _, dup := index[d.ID]; dup {
			dropped = append(dropped, d.ID)
			continue
		}
		index[d.ID] = len(next)
		next = append(next, d)
	}

	c.mu.Lock()
	c.defs = next
	c.index = index
	c.mu.Unlock()
	return dropped
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (domain.UpgradeDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return domain.UpgradeDefinition{}, false
	}
	return c.defs[i], true
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []domain.UpgradeDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.UpgradeDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
