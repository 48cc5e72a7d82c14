// Package entity implements the Entity Context: an archetype-based ECS
// runtime layered over the truth package's data model. Archetypes store
// component columns directly; structural mutations are deferred through a
// command queue to the next synchronization point, and engine/system
// updates are scheduled as a dependency graph with automatic read/write
// conflict analysis.
package entity

import "sync/atomic"

// EntityID is the externally-visible identifier for an entity: a dense
// slot index plus a generation counter that invalidates stale IDs once
// the slot is recycled.
type EntityID struct {
	Index      uint32
	Generation uint32
}

// IsNil reports whether id is the zero ("no entity") value.
func (id EntityID) IsNil() bool { return id == EntityID{} }

// ComponentType is a dense index into the Component Registry, assigned in
// registration order. It doubles as the bit position in a Mask.
type ComponentType uint32

// MaxComponentTypes bounds the component mask to 1024 bits (16 uint64
// words), matching the source engine's tm_component_mask_t.
const MaxComponentTypes = 1024

// entityVersions is a monotonic counter. The archetype Store holds one,
// but no Store operation advances it.
type entityVersions struct{ v uint64 }

func (c *entityVersions) next() uint64 { return atomic.AddUint64(&c.v, 1) }

// Priority orders system execution within a tick when the dependency
// graph leaves several systems eligible to run at once.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Handle identifies a deferred structural mutation queued through the
// Command Queue before it has actually been applied to an archetype.
type Handle uint64
