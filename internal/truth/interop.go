package truth

// InteropContext maps object identities between two Truth instances — a
// source (e.g. a mod's own sandboxed Store) and a destination (the
// running Store) — so an object (and the closure of the assets it
// references) can be imported once without duplicating shared assets on
// every import.
type InteropContext struct {
	src, dst *Store
	imported map[ObjectID]ObjectID // src id -> dst id
}

// NewInteropContext builds a context for copying objects from src into
// dst.
func NewInteropContext(src, dst *Store) *InteropContext {
	return &InteropContext{src: src, dst: dst, imported: make(map[ObjectID]ObjectID)}
}

// EnsureCompatibility verifies that every type reachable from id in the
// source store has a same-named, same-shaped counterpart registered in
// the destination store's registry, returning ok=false and the first
// mismatching type name otherwise.
func (c *InteropContext) EnsureCompatibility(id ObjectID) (ok bool, mismatchedType string) {
	seen := make(map[ObjectID]bool)
	return c.checkCompatible(id, seen)
}

func (c *InteropContext) checkCompatible(id ObjectID, seen map[ObjectID]bool) (bool, string) {
	if id.IsNil() || seen[id] {
		return true, ""
	}
	seen[id] = true
	srcSnap := c.src.Read(id)
	if srcSnap == nil {
		return true, ""
	}
	srcType := c.src.registry.Type(id.TypeIndex)
	dstIdx, ok := c.dst.registry.TryTypeFromHash(srcType.NameHash)
	if !ok {
		return false, srcType.Name
	}
	dstType := c.dst.registry.Type(dstIdx)
	if !propertiesEqual(srcType.Properties, dstType.Properties) {
		return false, srcType.Name
	}
	for i, prop := range srcType.Properties {
		p := uint32(i)
		switch prop.Kind {
		case KindSubobject, KindReference:
			if v, ok := srcSnap.scalars[p]; ok {
				if child, ok := v.(ObjectID); ok {
					if good, mismatch := c.checkCompatible(child, seen); !good {
						return false, mismatch
					}
				}
			}
		case KindSubobjectSet, KindReferenceSet:
			for _, child := range c.src.effectiveSet(id, p) {
				if good, mismatch := c.checkCompatible(child, seen); !good {
					return false, mismatch
				}
			}
		}
	}
	return true, ""
}

// CloneObject imports id (and anything it references) from src into dst,
// returning dst's id for the imported root. Repeated calls for an id
// already imported through this context return the same destination
// object rather than duplicating it.
func (c *InteropContext) CloneObject(id ObjectID) ObjectID {
	if id.IsNil() {
		return ObjectID{}
	}
	if dstID, ok := c.imported[id]; ok {
		return dstID
	}
	srcSnap := c.src.Read(id)
	if srcSnap == nil {
		return ObjectID{}
	}
	srcType := c.src.registry.Type(id.TypeIndex)
	dstIdx := c.dst.registry.TypeFromHash(srcType.NameHash)

	dstID := c.dst.Create(dstIdx, ObjectID{})
	c.imported[id] = dstID

	mut := c.dst.Write(dstID)
	for i, prop := range srcType.Properties {
		p := uint32(i)
		if !srcSnap.isOverridden(p) {
			continue
		}
		switch prop.Kind {
		case KindSubobject, KindReference:
			if v, ok := srcSnap.scalars[p].(ObjectID); ok {
				mut.scalars[p] = c.CloneObject(v)
				mut.setOverridden(p, true)
			}
		case KindSubobjectSet, KindReferenceSet:
			d := mut.setDeltaFor(p, true)
			for _, child := range c.src.effectiveSet(id, p) {
				d.added = append(d.added, c.CloneObject(child))
			}
			mut.setOverridden(p, true)
		default:
			mut.scalars[p] = srcSnap.scalars[p]
			mut.setOverridden(p, true)
		}
	}
	c.dst.Commit(mut, NoUndoScope)
	return dstID
}

// DeepCloneAssets copies every asset-relation object (properties flagged
// RelationAsset by the source's prototype bookkeeping) reachable from id,
// without copying the instance tree itself — used when only the shared
// backing assets of a mod's content need to land in the host Store.
func (s *Store) DeepCloneAssets(src *Store, id ObjectID, dst *Store) []ObjectID {
	ctx := NewInteropContext(src, dst)
	var assets []ObjectID
	seen := make(map[ObjectID]bool)
	var walk func(ObjectID)
	walk = func(cur ObjectID) {
		if cur.IsNil() || seen[cur] {
			return
		}
		seen[cur] = true
		snap := src.Read(cur)
		if snap == nil {
			return
		}
		ty := src.registry.Type(cur.TypeIndex)
		for i, prop := range ty.Properties {
			p := uint32(i)
			switch prop.Kind {
			case KindSubobject, KindReference:
				if v, ok := snap.scalars[p].(ObjectID); ok {
					if src.Relation(cur, p, v) == RelationAsset {
						assets = append(assets, ctx.CloneObject(v))
					}
					walk(v)
				}
			case KindSubobjectSet, KindReferenceSet:
				for _, child := range src.effectiveSet(cur, p) {
					if src.Relation(cur, p, child) == RelationAsset {
						assets = append(assets, ctx.CloneObject(child))
					}
					walk(child)
				}
			}
		}
	}
	walk(id)
	return assets
}
