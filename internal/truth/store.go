package truth

import (
	"sync"
	"sync/atomic"

	cserrors "corestate/internal/support/errors"
)

// Slot holds one object's published snapshot pointer plus the identity
// metadata that survives across commits: its persistent UUID and a
// generation counter that invalidates stale ObjectIDs after the slot is
// recycled by garbage collection.
type Slot struct {
	ptr        atomic.Pointer[Snapshot]
	uuid       UUID
	generation uint32
	typeIndex  TypeIndex
	destroyed  bool // true once the slot has been reclaimed and may be recycled
	pending    bool // Destroy was called; waiting on GarbageCollect to reclaim
}

// Store is the Object Store: a slab of Slots per type plus the UUID and
// prototype-instance bookkeeping. Read takes mu shared and Commit takes it
// exclusively to locate the slot; the snapshot itself is published and
// loaded through the slot's atomic pointer.
type Store struct {
	mu       sync.RWMutex
	registry *Registry
	reporter cserrors.Reporter
	versions versionCounter

	slots    [][]*Slot // indexed [typeIndex][slotIndex]
	freeList [][]uint32

	byUUID map[UUID]ObjectID

	// instances maps a prototype ObjectID to every object instantiated
	// from it directly, for DetachFromPrototype / propagation fanout.
	instances map[ObjectID]map[ObjectID]struct{}

	undo    *undoLog
	changes *changeTracker

	// Buffers is the blob store backing BUFFER properties. Exported so
	// callers can Add/Retain/Release directly; the Store never inspects
	// buffer contents itself.
	Buffers *Buffers
}

// NewStore builds an empty Store over registry using DefaultConfig.
// reporter may be nil.
func NewStore(registry *Registry, reporter cserrors.Reporter) *Store {
	return NewStoreWithConfig(registry, reporter, DefaultConfig())
}

// NewStoreWithConfig builds an empty Store with an explicit Config,
// letting a host application tune the change-ring capacity and similar
// startup-only knobs.
func NewStoreWithConfig(registry *Registry, reporter cserrors.Reporter, cfg Config) *Store {
	if reporter == nil {
		reporter = cserrors.Default
	}
	n := registry.NumTypes()
	s := &Store{
		registry:  registry,
		reporter:  reporter,
		slots:     make([][]*Slot, n),
		freeList:  make([][]uint32, n),
		byUUID:    make(map[UUID]ObjectID),
		instances: make(map[ObjectID]map[ObjectID]struct{}),
	}
	s.undo = newUndoLog()
	s.changes = newChangeTrackerWithCapacity(cfg.ChangeRingCapacity)
	s.Buffers = NewBuffers()
	return s
}

func (s *Store) growSlots(t TypeIndex) {
	for TypeIndex(len(s.slots)) <= t {
		s.slots = append(s.slots, nil)
		s.freeList = append(s.freeList, nil)
	}
}

// allocSlot returns a fresh or recycled slot index for type t. A recycled
// slot carries the generation finalizeDestroy already bumped, so stale
// ObjectIDs referencing the old occupant fail IsAlive.
func (s *Store) allocSlot(t TypeIndex) (slotIdx uint32, gen uint32) {
	s.growSlots(t)
	free := s.freeList[t]
	if n := len(free); n > 0 {
		idx := free[n-1]
		s.freeList[t] = free[:n-1]
		slot := s.slots[t][idx]
		slot.destroyed = false
		slot.pending = false
		return idx, slot.generation
	}
	idx := uint32(len(s.slots[t]))
	s.slots[t] = append(s.slots[t], &Slot{typeIndex: t, generation: 1})
	return idx, 1
}

func (s *Store) slot(id ObjectID) *Slot {
	if int(id.TypeIndex) >= len(s.slots) || int(id.SlotIndex) >= len(s.slots[id.TypeIndex]) {
		return nil
	}
	slot := s.slots[id.TypeIndex][id.SlotIndex]
	if slot == nil || slot.generation != id.Generation {
		return nil
	}
	return slot
}

// Create makes a new object of type t. If prototype is non-nil (not the
// zero ObjectID) the new object's unset properties read through to
// prototype's values; otherwise the type's DefaultObject is cloned in as
// the starting snapshot. The creation itself is not recorded as an
// undoable action; use CreateWithScope for that.
func (s *Store) Create(t TypeIndex, prototype ObjectID) ObjectID {
	return s.CreateWithScope(t, prototype, NoUndoScope)
}

// CreateWithScope behaves like Create but, when scope is not NoUndoScope,
// records the creation into scope as an undoable action: Undo(scope)
// republishes a not-alive sentinel snapshot so IsAlive(id) reports false
// (spec.md §8 scenario S3's "undo(S1) -> is_alive(O) == false"), and
// Redo(scope) restores the exact snapshot Create published.
func (s *Store) CreateWithScope(t TypeIndex, prototype ObjectID, scope UndoScope) ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()

	slotIdx, gen := s.allocSlot(t)
	id := ObjectID{TypeIndex: t, Generation: gen, SlotIndex: slotIdx}

	// deadBefore stands in for "id did not exist yet" so Undo can restore
	// exactly that state through the same applyRaw path every other undo
	// action uses, without a separate creation/destruction sentinel type.
	deadBefore := &Snapshot{id: id, scalars: make(map[uint32]interface{}), sets: make(map[uint32]*setDelta)}

	snap := newEmptySnapshot(id)
	snap.prototype = prototype
	if !prototype.IsNil() {
		if protoSlot := s.slot(prototype); protoSlot != nil {
			if s.instances[prototype] == nil {
				s.instances[prototype] = make(map[ObjectID]struct{})
			}
			s.instances[prototype][id] = struct{}{}
		}
	} else if def := s.registry.DefaultObject(t); !def.IsNil() {
		if defSnap := s.readLocked(def); defSnap != nil {
			cloned := defSnap.clone()
			cloned.id = id
			cloned.prototype = ObjectID{}
			cloned.version = s.versions.next()
			cloned.mutable = false
			s.slots[t][slotIdx].ptr.Store(cloned)
			s.slots[t][slotIdx].uuid = NewUUID()
			s.byUUID[s.slots[t][slotIdx].uuid] = id
			if scope != NoUndoScope {
				s.undo.record(scope, id, deadBefore, cloned)
			}
			return id
		}
	}
	snap.version = s.versions.next()
	snap.mutable = false
	slot := s.slots[t][slotIdx]
	slot.ptr.Store(snap)
	slot.uuid = NewUUID()
	s.byUUID[slot.uuid] = id
	if scope != NoUndoScope {
		s.undo.record(scope, id, deadBefore, snap)
	}
	return id
}

// CreateSubobject creates a new object of type t owned by owner (used for
// SUBOBJECT / SUBOBJECT_SET property values). Subobjects are subject to
// GarbageCollect: once nothing reachable from the GC roots still points
// to one, it is reclaimed automatically rather than requiring an explicit
// Destroy call.
func (s *Store) CreateSubobject(t TypeIndex, owner ObjectID, prototype ObjectID) ObjectID {
	id := s.Create(t, prototype)
	s.mu.Lock()
	slot := s.slot(id)
	snap := slot.ptr.Load().clone()
	snap.owner = owner
	snap.pseudo = true
	snap.version = s.versions.next()
	snap.mutable = false
	slot.ptr.Store(snap)
	s.mu.Unlock()
	return id
}

// Clone copies id's current snapshot, including its local overrides, into
// a new object with its own ObjectID and UUID. The clone keeps id's
// prototype link and is registered as another instance of that prototype.
// Subobjects are not copied: the clone's SUBOBJECT values and set elements
// name the same objects as id's.
func (s *Store) Clone(id ObjectID) ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.readLocked(id)
	if src == nil {
		err := cserrors.New(cserrors.CodeCommitOnDestroyed, "Clone called on dead object %+v", id)
		s.reporter.Fatal("truth/store.go", 0, "%s", err)
		return ObjectID{}
	}
	slotIdx, gen := s.allocSlot(id.TypeIndex)
	newID := ObjectID{TypeIndex: id.TypeIndex, Generation: gen, SlotIndex: slotIdx}

	cloned := src.clone()
	cloned.id = newID
	cloned.version = s.versions.next()
	cloned.mutable = false

	slot := s.slots[id.TypeIndex][slotIdx]
	slot.ptr.Store(cloned)
	slot.uuid = NewUUID()
	s.byUUID[slot.uuid] = newID

	if !cloned.prototype.IsNil() {
		if s.instances[cloned.prototype] == nil {
			s.instances[cloned.prototype] = make(map[ObjectID]struct{})
		}
		s.instances[cloned.prototype][newID] = struct{}{}
	}
	return newID
}

// Destroy marks id not-alive. If anything still instantiates id as a
// prototype, the slot becomes a ghost: readable (prototype-chain lookups
// from its instances keep working) but IsAlive reports false, and the
// slot is not recycled until GarbageCollect finds it has no instances
// left. If nothing instantiates id, the slot is only queued for
// reclamation — finalization (generation bump, free-list recycling) still
// waits for the next GarbageCollect safe point, matching spec.md §4.F
// ("reclaims ... destroyed slots ... at a serial safe point").
func (s *Store) Destroy(id ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked(id)
}

func (s *Store) destroyLocked(id ObjectID) {
	slot := s.slot(id)
	if slot == nil || slot.destroyed || slot.pending {
		return
	}
	cur := slot.ptr.Load()
	if cur != nil && cur.alive {
		dead := cur.clone()
		dead.alive = false
		dead.version = s.versions.next()
		dead.mutable = false
		slot.ptr.Store(dead)
		s.changes.ringFor(id.TypeIndex).record(id, dead.version)
	}
	slot.pending = true

	// id stops counting as a live instance of its own prototype the
	// moment it dies, even while id itself lingers as a ghost — this is
	// what lets id's prototype (if any) become reclaimable independently.
	for proto, set := range s.instances {
		delete(set, id)
		if len(set) == 0 {
			delete(s.instances, proto)
		}
	}
}

// finalizeDestroy reclaims a pending slot that no longer has live
// instances referencing it as a prototype: bumps its generation (so stale
// ObjectIDs fail IsAlive even after the slot is reused) and queues it for
// recycling. Called only from GarbageCollect, a serial safe point.
func (s *Store) finalizeDestroy(id ObjectID) {
	slot := s.slot(id)
	if slot == nil || slot.destroyed {
		return
	}
	slot.destroyed = true
	slot.pending = false
	delete(s.byUUID, slot.uuid)
	delete(s.instances, id)
	slot.generation++
	s.freeList[id.TypeIndex] = append(s.freeList[id.TypeIndex], id.SlotIndex)
}

// IsAlive reports whether id still refers to a live, non-ghosted,
// non-destroyed object.
func (s *Store) IsAlive(id ObjectID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.slot(id)
	if slot == nil || slot.destroyed {
		return false
	}
	snap := slot.ptr.Load()
	return snap != nil && snap.alive
}

// IsGhost reports whether id has been destroyed but not yet reclaimed by
// GarbageCollect, which waits until no live object instantiates it as a
// prototype.
func (s *Store) IsGhost(id ObjectID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.slot(id)
	return slot != nil && !slot.destroyed && slot.pending
}

// UUID returns id's persistent identifier.
func (s *Store) UUID(id ObjectID) UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.slot(id)
	if slot == nil {
		return UUID{}
	}
	return slot.uuid
}

// SetUUID reassigns id's persistent identifier, used by deserialization to
// restore the identity objects had when they were last saved.
func (s *Store) SetUUID(id ObjectID, u UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slot(id)
	if slot == nil {
		return
	}
	delete(s.byUUID, slot.uuid)
	slot.uuid = u
	s.byUUID[u] = id
}

// ResolveOrCreatePlaceholder returns the existing object with uuid, or
// creates an empty placeholder of type t under that uuid if none exists
// yet. This lets a deserializer assign references to objects that appear
// later in the same file before the referent itself has been created.
func (s *Store) ResolveOrCreatePlaceholder(u UUID, t TypeIndex) ObjectID {
	s.mu.Lock()
	if id, ok := s.byUUID[u]; ok {
		s.mu.Unlock()
		return id
	}
	s.mu.Unlock()

	id := s.Create(t, ObjectID{})
	s.SetUUID(id, u)
	return id
}

// Read returns id's current published snapshot. It holds the store's read
// lock while locating the slot, so it waits while a writer holds the lock.
// The returned Snapshot must not be mutated by the caller.
func (s *Store) Read(id ObjectID) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(id)
}

func (s *Store) readLocked(id ObjectID) *Snapshot {
	slot := s.slot(id)
	if slot == nil || slot.destroyed {
		return nil
	}
	return slot.ptr.Load()
}

// Write returns a private mutable copy of id's current snapshot for the
// caller to edit. The copy is invisible to readers until Commit publishes
// it. Write on a ghosted (Destroy'd but still-instantiated) object fails
// like a destroyed one: a ghost is readable but not writable.
func (s *Store) Write(id ObjectID) *Snapshot {
	cur := s.Read(id)
	if cur == nil || !cur.alive {
		err := cserrors.New(cserrors.CodeCommitOnDestroyed, "Write called on dead object %+v", id)
		s.reporter.Fatal("truth/store.go", 0, "%s", err)
		return nil
	}
	return cur.clone()
}

// Commit publishes mut as id's new snapshot, bumping its version and
// recording an undo action in scope (unless scope is NoUndoScope). A
// commit to a destroyed or ghosted object is discarded and reported
// through the Reporter's Errorf. Commit does not check for concurrent
// writers; callers that need optimistic concurrency use TryCommit.
func (s *Store) Commit(mut *Snapshot, scope UndoScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked(mut, scope)
}

func (s *Store) commitLocked(mut *Snapshot, scope UndoScope) {
	slot := s.slot(mut.id)
	if slot == nil || slot.destroyed || slot.pending {
		err := cserrors.New(cserrors.CodeCommitOnDestroyed, "Commit called on dead object %+v", mut.id)
		s.reporter.Errorf("truth/store.go", 0, "%s", err)
		return
	}
	prev := slot.ptr.Load()
	mut.version = s.versions.next()
	mut.mutable = false
	slot.ptr.Store(mut)

	if scope != NoUndoScope {
		s.undo.record(scope, mut.id, prev, mut)
	}
	s.recordChanges(prev, mut)
	if !mut.pseudo {
		s.propagateAncestorVersions(mut.owner)
	}
}

// recordChanges feeds the change tracker one entry per property whose
// value or override state differs between prev and mut, falling back to
// a single ring-buffer touch with no property detail when prev is nil
// (object just created).
func (s *Store) recordChanges(prev, mut *Snapshot) {
	if prev == nil {
		s.changes.ringFor(mut.id.TypeIndex).record(mut.id, mut.version)
		return
	}
	touched := false
	ty := s.registry.Type(mut.id.TypeIndex)
	for i := range ty.Properties {
		p := uint32(i)
		if prev.isOverridden(p) != mut.isOverridden(p) || prev.scalars[p] != mut.scalars[p] {
			s.changes.recordCommit(mut.id, mut.version, p, prev.scalars[p], mut.scalars[p])
			touched = true
		}
	}
	if !touched {
		s.changes.ringFor(mut.id.TypeIndex).record(mut.id, mut.version)
	}
}

// propagateAncestorVersions bumps the version of every ancestor owner so a
// reader who only polls the root of a hierarchy still observes that a
// descendant changed, without having to walk the whole tree.
func (s *Store) propagateAncestorVersions(owner ObjectID) {
	for !owner.IsNil() {
		slot := s.slot(owner)
		if slot == nil || slot.destroyed {
			return
		}
		cur := slot.ptr.Load()
		if cur == nil {
			return
		}
		bumped := cur.clone()
		bumped.version = s.versions.next()
		bumped.mutable = false
		slot.ptr.Store(bumped)
		owner = bumped.owner
	}
}

// TryWrite behaves like Write but also returns the version the copy was
// based on, so a later TryCommit can detect whether another writer
// published in between.
func (s *Store) TryWrite(id ObjectID) (*Snapshot, uint64) {
	cur := s.Read(id)
	if cur == nil || !cur.alive {
		return nil, 0
	}
	return cur.clone(), cur.version
}

// TryCommit publishes mut only if id's snapshot version is still baseVersion,
// reporting ok=false on conflict so the caller can re-Write and retry.
func (s *Store) TryCommit(mut *Snapshot, baseVersion uint64, scope UndoScope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slot(mut.id)
	if slot == nil || slot.destroyed || slot.pending {
		return false
	}
	if cur := slot.ptr.Load(); cur == nil || cur.version != baseVersion {
		return false
	}
	s.commitLocked(mut, scope)
	return true
}

// RetargetWrite rebinds an in-flight mutable copy to represent a different
// object identity (its id and owner), without discarding the edits already
// made to it. This is used when a write started against a placeholder and
// the real object it should apply to was only resolved afterward.
func (s *Store) RetargetWrite(mut *Snapshot, newID, newOwner ObjectID) {
	mut.id = newID
	mut.owner = newOwner
}

// Prototype returns id's prototype, or the nil ObjectID if id has none.
func (s *Store) Prototype(id ObjectID) ObjectID {
	snap := s.Read(id)
	if snap == nil {
		return ObjectID{}
	}
	return snap.prototype
}

// Instances returns every object directly instantiated from prototype.
func (s *Store) Instances(prototype ObjectID) []ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.instances[prototype]
	out := make([]ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
