package hw

import (
	"fmt"
	"sort"
	"sync"
)

// Arena holds every component of a display device. Pipelines keep
// ComponentIDs, never component references of their own, so component
// lifetime is tied to the arena alone.
type Arena struct {
	mu         sync.RWMutex
	components map[ComponentID]Component
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{components: make(map[ComponentID]Component)}
}

// Register adds a component. IDs must be unique.
func (a *Arena) Register(c Component) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.components[c.ID()]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, c.ID())
	}
	a.components[c.ID()] = c
	return nil
}

// Get returns the component with the given id.
func (a *Arena) Get(id ComponentID) (Component, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.components[id]
	return c, ok
}

// MustGet returns the component or an error wrapping ErrUnknownComponent.
func (a *Arena) MustGet(id ComponentID) (Component, error) {
	c, ok := a.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComponent, id)
	}
	return c, nil
}

// IDs returns all registered ids in ascending order.
func (a *Arena) IDs() []ComponentID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]ComponentID, 0, len(a.components))
	for id := range a.components {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered components.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.components)
}
