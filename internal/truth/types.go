// Package truth implements The Truth: a versioned, copy-on-write
// authoritative data store for editable hierarchical objects with
// prototypes, undo/redo, change tracking, and safe concurrent read/write.
//
// Readers acquire a snapshot pointer with Store.Read, which takes the
// store's read lock while it locates the slot.
// Writers acquire a private mutable copy with Store.Write, mutate it, and
// publish with Store.Commit, which swaps the slot's snapshot pointer
// atomically. Nothing here holds a lock across caller code.
package truth

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// PropertyKind enumerates the value kinds a Property can hold.
type PropertyKind int

const (
	KindNone PropertyKind = iota
	KindBool
	KindU32
	KindU64
	KindF32
	KindF64
	KindString
	KindBuffer
	KindReference
	KindSubobject
	KindReferenceSet
	KindSubobjectSet
)

// MaxProperties is the hard cap on properties per type: the override
// bitmask is a single uint64.
const MaxProperties = 64

// PropertyFlags carries the not_serialized / allow_other_types bits
// a property can declare.
type PropertyFlags struct {
	NotSerialized   bool
	AllowOtherTypes bool
}

// Property describes one property slot of a Type.
type Property struct {
	Name           string
	NameHash       uint64
	Kind           PropertyKind
	TargetTypeHash uint64
	Flags          PropertyFlags
	EditorHint     string
	Tooltip        string
}

// TypeIndex is a dense integer identifying a Type within a Registry. Zero
// means "no type" — type index 0 is never assigned to a real type.
type TypeIndex uint32

// Type is a Truth object type: a fixed property layout shared by every
// object created with it.
type Type struct {
	Name               string
	NameHash           uint64
	Properties         []Property
	Index              TypeIndex
	DefaultObjectID    ObjectID
	CreatorObjectID    ObjectID
	aspects            map[uint64]interface{}
	propertyAspects    map[uint32]map[uint64]interface{}
}

// ObjectID is the opaque tuple identifying a Truth object: three 32-bit
// fields (type index, generation, slot index). The zero value means "no
// object".
type ObjectID struct {
	TypeIndex  TypeIndex
	Generation uint32
	SlotIndex  uint32
}

// IsNil reports whether id is the zero ("no object") ID.
func (id ObjectID) IsNil() bool {
	return id == ObjectID{}
}

// UUID is the 128-bit persistent identifier assigned to an object at
// creation, surviving serialization. Backed by google/uuid, which already
// represents UUIDs as a 16-byte array.
type UUID = uuid.UUID

// NewUUID mints a fresh random UUID for a newly created object.
func NewUUID() UUID { return uuid.New() }

// UndoScope is the token returned by CreateUndoScope. Zero means "not
// recorded". The top bit marks a thread-safe scope.
type UndoScope uint64

const threadSafeUndoBit UndoScope = 1 << 63

// IsThreadSafe reports whether the scope was created with
// CreateThreadSafeUndoScope.
func (s UndoScope) IsThreadSafe() bool { return s&threadSafeUndoBit != 0 }

// NoUndoScope is used for commits that should not be undoable.
const NoUndoScope UndoScope = 0

// PrototypeRelation mirrors tm_the_truth_prototype_relation from the
// source headers: how a subobject (or set element) relates to its
// owner's prototype chain.
type PrototypeRelation int

const (
	RelationAdded PrototypeRelation = iota
	RelationAsset
	RelationInherited
	RelationInstantiated
	RelationRemoved
	RelationNone
)

// MemoryUse reports resident vs. on-demand-loadable memory for an object,
// mirroring tm_tt_memory_use_t.
type MemoryUse struct {
	Resident uint64
	Unloaded uint64
}

// versionCounter is a process-wide monotonic counter backing
// Snapshot.version; it never resets and never goes backwards, including
// across undo/redo.
type versionCounter struct{ v uint64 }

func (c *versionCounter) next() uint64 { return atomic.AddUint64(&c.v, 1) }
