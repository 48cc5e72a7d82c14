package entity

import (
	"sort"
	"sync"

	cserrors "corestate/internal/support/errors"
)

// column holds one component's data for every row of an archetype, as a
// slice of interface{} rather than a raw byte buffer: the component's
// natural Go type is preserved end to end instead of reinterpreting
// memory, at the cost of one pointer-sized box per element.
type column []interface{}

// Archetype is the set of entities sharing exactly one component Mask,
// stored column-major.
type Archetype struct {
	mask     Mask
	entities []EntityID
	columns  map[ComponentType]column
}

func newArchetype(mask Mask) *Archetype {
	return &Archetype{mask: mask, columns: make(map[ComponentType]column)}
}

func (a *Archetype) count() int { return len(a.entities) }

// appendRow adds a new row for e, filling each of mask's columns with
// its descriptor's default value (nil if none declared).
func (a *Archetype) appendRow(e EntityID, registry *ComponentRegistry) int {
	row := len(a.entities)
	a.entities = append(a.entities, e)
	a.mask.ForEach(func(c ComponentType) {
		a.columns[c] = append(a.columns[c], registry.Descriptor(c).defaultValue())
	})
	return row
}

func (d Descriptor) defaultValue() interface{} {
	if d.DefaultData != nil {
		return append([]byte(nil), d.DefaultData...)
	}
	return nil
}

// removeRowSwapLast removes row, moving the last row into its place to
// keep every column dense, and returns the EntityID that ended up at
// row (or the nil ID if row was already the last row removed).
func (a *Archetype) removeRowSwapLast(row int) EntityID {
	last := len(a.entities) - 1
	moved := EntityID{}
	if row != last {
		a.entities[row] = a.entities[last]
		moved = a.entities[row]
		for c, col := range a.columns {
			col[row] = col[last]
			a.columns[c] = col
		}
	}
	a.entities = a.entities[:last]
	for c, col := range a.columns {
		a.columns[c] = col[:last]
	}
	return moved
}

// entitySlot is the Entity index table's per-entity record: which
// archetype it currently lives in and at what row, plus liveness.
type entitySlot struct {
	archetype *Archetype
	row       int
	alive     bool
	parent    EntityID
	children  []EntityID
}

// Store is the Archetype Store: owns one Archetype per distinct mask, the
// entity index table mapping slot -> (archetype, row), and the free list
// recycling destroyed slots.
type Store struct {
	mu         sync.RWMutex
	registry   *ComponentRegistry
	reporter   cserrors.Reporter
	versions   entityVersions
	archetypes map[Mask]*Archetype
	slots      []*entitySlot
	generation []uint32
	free       []uint32
}

// NewStore builds an empty archetype Store over registry. reporter may
// be nil.
func NewStore(registry *ComponentRegistry, reporter cserrors.Reporter) *Store {
	if reporter == nil {
		reporter = cserrors.Default
	}
	return &Store{
		registry:   registry,
		reporter:   reporter,
		archetypes: make(map[Mask]*Archetype),
	}
}

func (s *Store) archetypeFor(mask Mask) *Archetype {
	a, ok := s.archetypes[mask]
	if !ok {
		a = newArchetype(mask)
		s.archetypes[mask] = a
	}
	return a
}

func (s *Store) allocSlot() (idx uint32, gen uint32) {
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		return idx, s.generation[idx]
	}
	idx = uint32(len(s.slots))
	s.slots = append(s.slots, nil)
	s.generation = append(s.generation, 1)
	return idx, 1
}

// CreateEntityFromMask allocates a new entity belonging to the archetype
// for mask, initializing each of its columns from the component's
// default data and firing Add callbacks.
func (s *Store) CreateEntityFromMask(mask Mask) EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, gen := s.allocSlot()
	id := EntityID{Index: idx, Generation: gen}

	arch := s.archetypeFor(mask)
	row := arch.appendRow(id, s.registry)
	s.slots[idx] = &entitySlot{archetype: arch, row: row, alive: true}

	mask.ForEach(func(c ComponentType) {
		if add := s.registry.Descriptor(c).Add; add != nil {
			add(id, nil)
		}
	})
	return id
}

// CreateEntityFromAsset allocates a new entity whose initial mask and
// column values are copied from a Truth asset object. Because the
// archetype store has no dependency on the truth package, the caller
// supplies the mask and per-component initial values directly (the
// persistence bridge resolves those from the asset beforehand).
func (s *Store) CreateEntityFromAsset(mask Mask, initial map[ComponentType]interface{}) EntityID {
	id := s.CreateEntityFromMask(mask)
	s.mu.Lock()
	slot := s.slots[id.Index]
	for c, v := range initial {
		if col, ok := slot.archetype.columns[c]; ok {
			col[slot.row] = v
		}
	}
	s.mu.Unlock()
	return id
}

// AddComponent moves e into the archetype for mask|{c}, copying existing
// columns row-wise and default-initializing c's new column, then firing
// c's Add callback.
func (s *Store) AddComponent(e EntityID, c ComponentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotFor(e)
	if slot == nil {
		return
	}
	if slot.archetype.mask.Has(c) {
		s.reporter.Errorf("entity/archetype.go", 0, "AddComponent: entity %+v already has component %d", e, c)
		return
	}
	s.moveEntity(e, slot, slot.archetype.mask.Set(c))
	if add := s.registry.Descriptor(c).Add; add != nil {
		add(e, nil)
	}
}

// RemoveComponent moves e into the archetype for mask without {c}, firing
// c's Remove callback first.
func (s *Store) RemoveComponent(e EntityID, c ComponentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotFor(e)
	if slot == nil || !slot.archetype.mask.Has(c) {
		return
	}
	if remove := s.registry.Descriptor(c).Remove; remove != nil {
		remove(e, nil)
	}
	s.moveEntity(e, slot, slot.archetype.mask.Clear(c))
}

// moveEntity relocates e from its current archetype/row to the archetype
// for newMask, copying every column common to both and recycling the
// vacated row via swap-with-last.
func (s *Store) moveEntity(e EntityID, slot *entitySlot, newMask Mask) {
	oldArch, oldRow := slot.archetype, slot.row
	newArch := s.archetypeFor(newMask)
	newRow := newArch.appendRow(e, s.registry)

	newMask.ForEach(func(c ComponentType) {
		if oldArch.mask.Has(c) {
			newArch.columns[c][newRow] = oldArch.columns[c][oldRow]
		}
	})

	moved := oldArch.removeRowSwapLast(oldRow)
	if !moved.IsNil() {
		s.slots[moved.Index].row = oldRow
	}
	slot.archetype = newArch
	slot.row = newRow
}

// DestroyEntity removes e, swapping the last row of its archetype into
// its place and recycling its slot onto the free list with a bumped
// generation.
func (s *Store) DestroyEntity(e EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyEntityLocked(e)
}

func (s *Store) destroyEntityLocked(e EntityID) {
	slot := s.slotFor(e)
	if slot == nil {
		return
	}
	slot.archetype.mask.ForEach(func(c ComponentType) {
		if remove := s.registry.Descriptor(c).Remove; remove != nil {
			remove(e, slot.archetype.columns[c][slot.row])
		}
	})
	moved := slot.archetype.removeRowSwapLast(slot.row)
	if !moved.IsNil() {
		s.slots[moved.Index].row = slot.row
	}
	if parent := slot.parent; !parent.IsNil() {
		if pslot := s.slotFor(parent); pslot != nil {
			pslot.children = removeEntity(pslot.children, e)
		}
	}
	for _, child := range slot.children {
		s.destroyEntityLocked(child)
	}
	slot.alive = false
	s.generation[e.Index]++
	s.slots[e.Index] = nil
	s.free = append(s.free, e.Index)
}

func removeEntity(xs []EntityID, target EntityID) []EntityID {
	for i, x := range xs {
		if x == target {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}

func (s *Store) slotFor(e EntityID) *entitySlot {
	if int(e.Index) >= len(s.slots) {
		return nil
	}
	slot := s.slots[e.Index]
	if slot == nil || !slot.alive || s.generation[e.Index] != e.Generation {
		return nil
	}
	return slot
}

// IsAlive reports whether e still refers to a live entity.
func (s *Store) IsAlive(e EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slotFor(e) != nil
}

// SetParent establishes e as a child of parent, used by the implicit
// owner component the Children query walks.
func (s *Store) SetParent(e, parent EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotFor(e)
	if slot == nil {
		return
	}
	if old := slot.parent; !old.IsNil() {
		if oldSlot := s.slotFor(old); oldSlot != nil {
			oldSlot.children = removeEntity(oldSlot.children, e)
		}
	}
	slot.parent = parent
	if pslot := s.slotFor(parent); pslot != nil {
		pslot.children = append(pslot.children, e)
	}
}

// Children returns e's direct children in insertion order.
func (s *Store) Children(e EntityID) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.slotFor(e)
	if slot == nil {
		return nil
	}
	return append([]EntityID(nil), slot.children...)
}

// ArchetypeMatch is one archetype's matching entities, returned without
// copying the underlying column data.
type ArchetypeMatch struct {
	Entities []EntityID
	Columns  map[ComponentType]column
}

// EntitiesMatching returns every archetype whose mask satisfies
// required (all present) and forbidden (none present).
func (s *Store) EntitiesMatching(required, forbidden Mask) []ArchetypeMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ArchetypeMatch
	masks := make([]Mask, 0, len(s.archetypes))
	for m := range s.archetypes {
		masks = append(masks, m)
	}
	sort.Slice(masks, func(i, j int) bool { return lessMask(masks[i], masks[j]) })
	for _, m := range masks {
		if !m.HasAll(required) {
			continue
		}
		if m.HasAny(forbidden) {
			continue
		}
		a := s.archetypes[m]
		out = append(out, ArchetypeMatch{Entities: a.entities, Columns: a.columns})
	}
	return out
}

func lessMask(a, b Mask) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ColumnValue returns the raw value stored for entity e's component c, or
// nil/false if e is dead or lacks c.
func (s *Store) ColumnValue(e EntityID, c ComponentType) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.slotFor(e)
	if slot == nil || !slot.archetype.mask.Has(c) {
		return nil, false
	}
	return slot.archetype.columns[c][slot.row], true
}

// SetColumnValue overwrites entity e's stored value for component c.
func (s *Store) SetColumnValue(e EntityID, c ComponentType, v interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotFor(e)
	if slot == nil || !slot.archetype.mask.Has(c) {
		return false
	}
	slot.archetype.columns[c][slot.row] = v
	return true
}

// ArchetypeCount returns the number of distinct archetypes currently
// allocated, primarily for metrics/debugging.
func (s *Store) ArchetypeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archetypes)
}
