package sim

import (
	"sync"

	"github.com/smazurov/scanout/internal/hw"
)

// Interlock is a simulated display-wide mutex block.
type Interlock struct {
	lock sync.Mutex

	mu         sync.Mutex
	members    map[hw.ComponentID]bool
	prepared   int
	enabled    bool
	acquires   int
	prepareErr error
}

var _ hw.Interlock = (*Interlock)(nil)

// NewInterlock creates an idle interlock.
func NewInterlock() *Interlock {
	return &Interlock{members: make(map[hw.ComponentID]bool)}
}

// FailPrepare makes Prepare fail with err.
func (i *Interlock) FailPrepare(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.prepareErr = err
}

// Prepare implements hw.Interlock.
func (i *Interlock) Prepare() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.prepareErr != nil {
		return i.prepareErr
	}
	i.prepared++
	return nil
}

// Unprepare implements hw.Interlock.
func (i *Interlock) Unprepare() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.prepared > 0 {
		i.prepared--
	}
}

// AddComponent implements hw.Interlock.
func (i *Interlock) AddComponent(id hw.ComponentID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.members[id] = true
}

// RemoveComponent implements hw.Interlock.
func (i *Interlock) RemoveComponent(id hw.ComponentID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.members, id)
}

// Enable implements hw.Interlock.
func (i *Interlock) Enable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = true
}

// Disable implements hw.Interlock.
func (i *Interlock) Disable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = false
}

// Acquire implements hw.Interlock.
func (i *Interlock) Acquire() {
	i.lock.Lock()
	i.mu.Lock()
	i.acquires++
	i.mu.Unlock()
}

// Release implements hw.Interlock.
func (i *Interlock) Release() {
	i.lock.Unlock()
}

// Member reports whether a component is part of the interlock.
func (i *Interlock) Member(id hw.ComponentID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.members[id]
}

// Members returns the number of member components.
func (i *Interlock) Members() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.members)
}

// Acquires returns how many times the interlock was acquired.
func (i *Interlock) Acquires() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.acquires
}

// Prepared reports whether the interlock clock is prepared.
func (i *Interlock) Prepared() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.prepared > 0
}

// Enabled reports whether the interlock latch is enabled.
func (i *Interlock) Enabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled
}
