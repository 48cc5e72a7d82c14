package truth

// GetProperty reads property p of id, walking the prototype chain when p
// is not locally overridden. A property set nowhere along the chain reads
// as its kind's zero value (false, 0 or ""); BUFFER, REFERENCE, SUBOBJECT
// and set kinds read as nil.
func (s *Store) GetProperty(id ObjectID, p uint32) interface{} {
	for {
		snap := s.Read(id)
		if snap == nil {
			return nil
		}
		if snap.isOverridden(p) {
			return snap.scalars[p]
		}
		if snap.prototype.IsNil() {
			ty := s.registry.Type(id.TypeIndex)
			if int(p) >= len(ty.Properties) {
				return nil
			}
			switch ty.Properties[p].Kind {
			case KindBool:
				return false
			case KindU32:
				return uint32(0)
			case KindU64:
				return uint64(0)
			case KindF32:
				return float32(0)
			case KindF64:
				return float64(0)
			case KindString:
				return ""
			}
			return nil
		}
		id = snap.prototype
	}
}

// SetProperty writes p on a mutable copy obtained from Write, marking it
// as locally overridden.
func (s *Store) SetProperty(mut *Snapshot, p uint32, value interface{}) {
	mut.scalars[p] = value
	mut.setOverridden(p, true)
}

// ClearOverride removes a local override, reverting p to read through to
// the prototype chain again.
func (s *Store) ClearOverride(mut *Snapshot, p uint32) {
	delete(mut.scalars, p)
	mut.setOverridden(p, false)
}

// IsOverridden reports whether id has a local value for p rather than
// inheriting it from its prototype.
func (s *Store) IsOverridden(id ObjectID, p uint32) bool {
	snap := s.Read(id)
	return snap != nil && snap.isOverridden(p)
}

// effectiveSet resolves property p's merged set value: the prototype's
// effective set (recursively), with removed elements dropped,
// instantiated elements substituted in place of their prototype
// counterpart, and added elements appended — the three-small-array merge
// algorithm the source engine documents for REFERENCE_SET/SUBOBJECT_SET
// properties.
func (s *Store) effectiveSet(id ObjectID, p uint32) []ObjectID {
	snap := s.Read(id)
	if snap == nil {
		return nil
	}
	var base []ObjectID
	if !snap.prototype.IsNil() {
		base = s.effectiveSet(snap.prototype, p)
	}
	delta := snap.sets[p]
	if delta == nil {
		return base
	}
	removed := make(map[ObjectID]bool, len(delta.removed))
	for _, r := range delta.removed {
		removed[r] = true
	}
	out := make([]ObjectID, 0, len(base)+len(delta.added))
	for i, b := range base {
		if removed[b] {
			continue
		}
		if i < len(delta.instantiated) && !delta.instantiated[i].IsNil() {
			out = append(out, delta.instantiated[i])
			continue
		}
		out = append(out, b)
	}
	out = append(out, delta.added...)
	return out
}

// EffectiveSet is the exported form of effectiveSet, for read-side
// callers outside the package.
func (s *Store) EffectiveSet(id ObjectID, p uint32) []ObjectID {
	return s.effectiveSet(id, p)
}

// AddToSet appends element to mut's local additions for set property p.
func (s *Store) AddToSet(mut *Snapshot, p uint32, element ObjectID) {
	d := mut.setDeltaFor(p, true)
	d.added = append(d.added, element)
	mut.setOverridden(p, true)
}

// RemoveFromSet removes element from p's effective set: if it came from
// the prototype, it is recorded as removed; if it was a local addition,
// the addition is simply withdrawn.
func (s *Store) RemoveFromSet(mut *Snapshot, p uint32, element ObjectID) {
	d := mut.setDeltaFor(p, true)
	for i, a := range d.added {
		if a == element {
			d.added = append(d.added[:i], d.added[i+1:]...)
			mut.setOverridden(p, true)
			return
		}
	}
	d.removed = append(d.removed, element)
	mut.setOverridden(p, true)
}

// CancelRemoveFromSet reverses a prior RemoveFromSet: element is dropped
// from p's local removed list so it resumes reading through to the
// prototype's effective set. A no-op if element was not locally removed.
// This is spec.md §4.C's cancel_remove_from_prototype_subobject_set; since
// REFERENCE_SET and SUBOBJECT_SET both use the same setDelta
// representation, it serves as the symmetric reference-set operation too.
func (s *Store) CancelRemoveFromSet(mut *Snapshot, p uint32, element ObjectID) {
	d := mut.sets[p]
	if d == nil {
		return
	}
	for i, r := range d.removed {
		if r == element {
			d.removed = append(d.removed[:i], d.removed[i+1:]...)
			mut.setOverridden(p, true)
			return
		}
	}
}

// PropagateProperty writes obj's current effective value for property p
// up into obj's prototype, then clears obj's own local override so p
// reads through to the (now updated) prototype again — spec.md §4.C's
// propagate_property. A no-op if obj has no prototype. scope controls
// whether the two commits this performs (one on the prototype, one on
// obj) are undoable.
func (s *Store) PropagateProperty(obj ObjectID, p uint32, scope UndoScope) {
	snap := s.Read(obj)
	if snap == nil || snap.prototype.IsNil() {
		return
	}
	value := s.GetProperty(obj, p)

	protoMut := s.Write(snap.prototype)
	if protoMut == nil {
		return
	}
	s.SetProperty(protoMut, p, value)
	s.Commit(protoMut, scope)

	objMut := s.Write(obj)
	if objMut == nil {
		return
	}
	s.ClearOverride(objMut, p)
	s.Commit(objMut, scope)
}

// PropagateObject calls PropagateProperty for every scalar/reference
// property obj currently overrides, then recurses into its SUBOBJECT
// properties (and the instantiated elements of its SUBOBJECT_SET
// properties) so a whole subtree of local edits is pushed up into the
// prototype chain at once — spec.md §4.C's propagate_object(obj,
// skip_set?). skipSet, when non-nil, names subobjects PropagateObject
// must not recurse into; their own overrides are left untouched. Scalar
// SUBOBJECT/SUBOBJECT_SET properties are never themselves passed to
// PropagateProperty: a subobject's identity is never shared between a
// prototype and its instances, only the overrides nested inside it are.
func (s *Store) PropagateObject(obj ObjectID, skipSet map[ObjectID]bool, scope UndoScope) {
	snap := s.Read(obj)
	if snap == nil {
		return
	}
	ty := s.registry.Type(obj.TypeIndex)
	for i, prop := range ty.Properties {
		p := uint32(i)
		switch prop.Kind {
		case KindSubobject:
			if !snap.isOverridden(p) {
				continue
			}
			if sub, ok := snap.scalars[p].(ObjectID); ok && !sub.IsNil() && !skipSet[sub] {
				s.PropagateObject(sub, skipSet, scope)
			}
		case KindSubobjectSet:
			if d := snap.sets[p]; d != nil {
				for _, inst := range d.instantiated {
					if !inst.IsNil() && !skipSet[inst] {
						s.PropagateObject(inst, skipSet, scope)
					}
				}
			}
		case KindReferenceSet:
			// A reference set's local delta lives in sets[p], not
			// scalars[p]; PropagateProperty only pushes scalar values, so
			// there's nothing for it to do here and no subobjects to
			// recurse into.
		default:
			if snap.isOverridden(p) {
				s.PropagateProperty(obj, p, scope)
				snap = s.Read(obj) // refresh: PropagateProperty just committed obj
			}
		}
	}
}

// instantiateElement clones protoElement into a fresh object whose
// prototype is protoElement itself, and registers it in the prototype's
// instance set. Shared by InstantiateSubobject (set elements) and
// InstantiateSubobjectProperty (plain scalar SUBOBJECT properties).
func (s *Store) instantiateElement(protoElement ObjectID) ObjectID {
	newID := s.Clone(protoElement)
	s.mu.Lock()
	newSnap := s.slot(newID).ptr.Load().clone()
	newSnap.prototype = protoElement
	newSnap.version = s.versions.next()
	newSnap.mutable = false
	s.slot(newID).ptr.Store(newSnap)
	if s.instances[protoElement] == nil {
		s.instances[protoElement] = make(map[ObjectID]struct{})
	}
	s.instances[protoElement][newID] = struct{}{}
	s.mu.Unlock()
	return newID
}

// InstantiateSubobject creates a new object whose prototype is
// protoElement and substitutes it for protoElement's position in p's
// effective set, giving the owner an editable local copy of one element
// of an inherited set without detaching from the rest of the set. This is
// spec.md §4.C's instantiate_subobject_from_set.
func (s *Store) InstantiateSubobject(mut *Snapshot, p uint32, protoElement ObjectID) ObjectID {
	protoSnap := s.Read(protoElement)
	if protoSnap == nil {
		s.reporter.Fatal("truth/prototype.go", 0, "InstantiateSubobject on dead prototype element %+v", protoElement)
		return ObjectID{}
	}
	newID := s.instantiateElement(protoElement)

	base := s.effectiveSetExcludingOwn(mut, p)
	idx := indexOf(base, protoElement)
	d := mut.setDeltaFor(p, true)
	if idx >= 0 {
		for len(d.instantiated) <= idx {
			d.instantiated = append(d.instantiated, ObjectID{})
		}
		d.instantiated[idx] = newID
	} else {
		d.added = append(d.added, newID)
	}
	mut.setOverridden(p, true)
	return newID
}

// InstantiateSubobjectProperty creates a local editable copy of a plain
// scalar SUBOBJECT property p inherited from mut's prototype: a new
// object whose prototype is the prototype's current effective value at
// p, stored as p's local override. Fails (returns the nil ObjectID,
// logged via Errorf) if mut has no prototype or the prototype has no
// subobject at p — spec.md §4.C's instantiate_subobject(owner, property).
func (s *Store) InstantiateSubobjectProperty(mut *Snapshot, p uint32) ObjectID {
	if mut.prototype.IsNil() {
		s.reporter.Errorf("truth/prototype.go", 0, "InstantiateSubobjectProperty: %+v has no prototype", mut.id)
		return ObjectID{}
	}
	protoElement, ok := s.GetProperty(mut.prototype, p).(ObjectID)
	if !ok || protoElement.IsNil() {
		s.reporter.Errorf("truth/prototype.go", 0, "InstantiateSubobjectProperty: prototype %+v has no subobject at property %d", mut.prototype, p)
		return ObjectID{}
	}
	newID := s.instantiateElement(protoElement)
	mut.scalars[p] = newID
	mut.setOverridden(p, true)
	return newID
}

// effectiveSetExcludingOwn resolves the prototype-derived portion of p's
// set (i.e. the base the instantiated[] index array lines up against),
// without mut's own not-yet-committed delta.
func (s *Store) effectiveSetExcludingOwn(mut *Snapshot, p uint32) []ObjectID {
	if mut.prototype.IsNil() {
		return nil
	}
	return s.effectiveSet(mut.prototype, p)
}

func indexOf(xs []ObjectID, target ObjectID) int {
	for i, x := range xs {
		if x == target {
			return i
		}
	}
	return -1
}

// RemoveInstantiatedSubobject reverts an InstantiateSubobject: the local
// instance is dropped from p's instantiated[] slot so the position reads
// back from the prototype element directly.
func (s *Store) RemoveInstantiatedSubobject(mut *Snapshot, p uint32, instance ObjectID) {
	d := mut.sets[p]
	if d == nil {
		return
	}
	for i, v := range d.instantiated {
		if v == instance {
			d.instantiated[i] = ObjectID{}
			mut.setOverridden(p, true)
			return
		}
	}
}

// Relation reports how element relates to owner's prototype chain for
// property p: whether it is locally added, inherited unmodified, a local
// instantiation of an inherited element, removed, or, for a scalar
// SUBOBJECT/REFERENCE property, an asset (element is not a subobject
// owned by owner, so it is a shared reference rather than part of
// owner's own instance tree).
func (s *Store) Relation(owner ObjectID, p uint32, element ObjectID) PrototypeRelation {
	snap := s.Read(owner)
	if snap == nil {
		return RelationNone
	}
	if props := s.registry.Type(owner.TypeIndex).Properties; int(p) < len(props) &&
		(props[p].Kind == KindSubobject || props[p].Kind == KindReference) {
		if elemSnap := s.Read(element); elemSnap != nil && elemSnap.owner != owner {
			return RelationAsset
		}
	}
	if d := snap.sets[p]; d != nil {
		for _, a := range d.added {
			if a == element {
				return RelationAdded
			}
		}
		for _, r := range d.removed {
			if r == element {
				return RelationRemoved
			}
		}
		for _, inst := range d.instantiated {
			if inst == element {
				return RelationInstantiated
			}
		}
	}
	if !snap.prototype.IsNil() {
		base := s.effectiveSet(snap.prototype, p)
		if indexOf(base, element) >= 0 {
			return RelationInherited
		}
	}
	return RelationNone
}

// DetachFromPrototype materializes every non-overridden scalar property
// as a concrete local value and clears the prototype pointer, so the
// object stops tracking future changes to what used to be its prototype.
func (s *Store) DetachFromPrototype(id ObjectID) {
	cur := s.Read(id)
	if cur == nil {
		return
	}
	if cur.prototype.IsNil() {
		return
	}
	mut := cur.clone()
	ty := s.registry.Type(id.TypeIndex)
	for i := range ty.Properties {
		p := uint32(i)
		if !mut.isOverridden(p) {
			if v := s.GetProperty(id, p); v != nil {
				mut.scalars[p] = v
				mut.setOverridden(p, true)
			}
		}
	}
	mut.prototype = ObjectID{}
	s.mu.Lock()
	delete(s.instances[cur.prototype], id)
	s.mu.Unlock()
	s.Commit(mut, NoUndoScope)
}

// DetachAllInstances detaches every direct instance of prototype, used
// before destroying a prototype object that still has live instances.
func (s *Store) DetachAllInstances(prototype ObjectID) {
	for _, inst := range s.Instances(prototype) {
		s.DetachFromPrototype(inst)
	}
}
