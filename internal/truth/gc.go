package truth

// GarbageCollect reclaims every pseudo (owned-subobject) object that is
// no longer reachable from roots by walking SUBOBJECT / REFERENCE
// properties, their set variants, and the prototype of an object whose
// SUBOBJECT / REFERENCE property is not set locally. Top-level objects (pseudo == false) are never
// collected this way — only Destroy removes those. This mirrors the
// source engine's model of running GC at serial safe points rather than
// eagerly on every property write, so a caller doing several edits that
// transiently detach and reattach a subobject does not pay a destroy/
// recreate cost.
func (s *Store) GarbageCollect(roots []ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reachable := make(map[ObjectID]bool, len(roots)*2)
	stack := append([]ObjectID(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsNil() || reachable[id] {
			continue
		}
		slot := s.slot(id)
		if slot == nil || slot.destroyed {
			continue
		}
		reachable[id] = true
		snap := slot.ptr.Load()
		if snap == nil {
			continue
		}
		ty := s.registry.Type(id.TypeIndex)
		for i, prop := range ty.Properties {
			p := uint32(i)
			switch prop.Kind {
			case KindSubobject, KindReference:
				if v, ok := snap.scalars[p]; ok {
					if child, ok := v.(ObjectID); ok {
						stack = append(stack, child)
					}
				} else if !snap.prototype.IsNil() {
					stack = append(stack, snap.prototype)
				}
			case KindSubobjectSet, KindReferenceSet:
				stack = append(stack, s.effectiveSet(id, p)...)
			}
		}
	}

	for t := range s.slots {
		for idx, slot := range s.slots[t] {
			if slot == nil || slot.destroyed {
				continue
			}
			id := ObjectID{TypeIndex: TypeIndex(t), Generation: slot.generation, SlotIndex: uint32(idx)}

			if slot.pending {
				// Destroy already ghosted id; reclaim the slot for real
				// once nothing still instantiates it as a prototype.
				if len(s.instances[id]) == 0 {
					s.finalizeDestroy(id)
				}
				continue
			}

			snap := slot.ptr.Load()
			if snap == nil || !snap.pseudo {
				continue
			}
			if !reachable[id] {
				s.destroyLocked(id)
				s.finalizeDestroy(id)
			}
		}
	}
}

// MemoryUse reports the resident memory Store estimates id's own snapshot
// occupies (its local scalars and set deltas; the prototype chain is not
// counted). Unloaded is always zero. Buffers referenced from it are not
// accounted for here: the external Buffer Store tracks their size
// separately.
func (s *Store) MemoryUse(id ObjectID) MemoryUse {
	snap := s.Read(id)
	if snap == nil {
		return MemoryUse{}
	}
	var resident uint64
	resident += uint64(len(snap.scalars)) * 16
	for _, d := range snap.sets {
		resident += uint64(len(d.added)+len(d.removed)+len(d.instantiated)) * 8
	}
	return MemoryUse{Resident: resident}
}
