package truth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPrototypeTestStore registers a "child" type (a single STRING
// property) and a "parent" type with a scalar SUBOBJECT property and a
// SUBOBJECT_SET property, both pointing at "child" — enough surface to
// exercise propagation and both instantiate_subobject variants.
func newPrototypeTestStore(t *testing.T) (*Store, TypeIndex, TypeIndex) {
	t.Helper()
	reg := NewRegistry(nil)
	child := reg.CreateType("child", []Property{
		{Name: "name", NameHash: hashString("name"), Kind: KindString},
	})
	parent := reg.CreateType("parent", []Property{
		{Name: "x", NameHash: hashString("x"), Kind: KindU32},
		{Name: "kid", NameHash: hashString("kid"), Kind: KindSubobject},
		{Name: "children", NameHash: hashString("children"), Kind: KindSubobjectSet},
	})
	store := NewStore(reg, nil)
	return store, parent, child
}

// TestPropagatePropertyPushesValueUpAndClearsOverride exercises spec.md
// §4.C's propagate_property: the instance's overridden value is written
// into the prototype, and the instance's own override is cleared.
func TestPropagatePropertyPushesValueUpAndClearsOverride(t *testing.T) {
	store, parent, _ := newPrototypeTestStore(t)

	proto := store.Create(parent, ObjectID{})
	instance := store.Create(parent, proto)

	mut := store.Write(instance)
	store.SetProperty(mut, 0, uint32(5))
	store.Commit(mut, NoUndoScope)
	require.True(t, store.IsOverridden(instance, 0))

	store.PropagateProperty(instance, 0, NoUndoScope)

	assert.False(t, store.IsOverridden(instance, 0), "override must be cleared after propagation")
	assert.Equal(t, uint32(5), store.GetProperty(proto, 0), "the value must be pushed into the prototype")
	assert.Equal(t, uint32(5), store.GetProperty(instance, 0), "instance still reads the same value, now inherited")
}

// TestPropagatePropertyNoPrototypeIsNoOp covers the "no prototype" branch:
// an object with no prototype has nothing to push a value into.
func TestPropagatePropertyNoPrototypeIsNoOp(t *testing.T) {
	store, parent, _ := newPrototypeTestStore(t)
	root := store.Create(parent, ObjectID{})

	mut := store.Write(root)
	store.SetProperty(mut, 0, uint32(9))
	store.Commit(mut, NoUndoScope)

	store.PropagateProperty(root, 0, NoUndoScope)
	assert.True(t, store.IsOverridden(root, 0), "nothing to propagate to, override must stay")
	assert.Equal(t, uint32(9), store.GetProperty(root, 0))
}

// TestPropagateObjectRecursesIntoOverriddenSubobject exercises spec.md
// §4.C's propagate_object: every overridden scalar property is pushed up,
// and a locally-instantiated SUBOBJECT property is recursed into so its
// own nested override gets pushed up too.
func TestPropagateObjectRecursesIntoOverriddenSubobject(t *testing.T) {
	store, parent, child := newPrototypeTestStore(t)

	protoKid := store.Create(child, ObjectID{})
	proto := store.Create(parent, ObjectID{})
	mut := store.Write(proto)
	store.SetProperty(mut, 1, protoKid)
	store.Commit(mut, NoUndoScope)

	instance := store.Create(parent, proto)

	mut = store.Write(instance)
	store.SetProperty(mut, 0, uint32(3))
	instanceKid := store.InstantiateSubobjectProperty(mut, 1)
	store.Commit(mut, NoUndoScope)
	require.False(t, instanceKid.IsNil())

	kidMut := store.Write(instanceKid)
	store.SetProperty(kidMut, 0, "renamed")
	store.Commit(kidMut, NoUndoScope)
	require.True(t, store.IsOverridden(instanceKid, 0))

	store.PropagateObject(instance, nil, NoUndoScope)

	assert.False(t, store.IsOverridden(instance, 0), "x must have been propagated")
	assert.Equal(t, uint32(3), store.GetProperty(proto, 0))
	assert.False(t, store.IsOverridden(instanceKid, 0), "the nested subobject's own override must be propagated too")
	assert.Equal(t, "renamed", store.GetProperty(protoKid, 0))
}

// TestPropagateObjectSkipSetStopsRecursion covers skip_set: a subobject
// named in skipSet keeps its own local override untouched.
func TestPropagateObjectSkipSetStopsRecursion(t *testing.T) {
	store, parent, child := newPrototypeTestStore(t)

	protoKid := store.Create(child, ObjectID{})
	proto := store.Create(parent, ObjectID{})
	mut := store.Write(proto)
	store.SetProperty(mut, 1, protoKid)
	store.Commit(mut, NoUndoScope)

	instance := store.Create(parent, proto)
	mut = store.Write(instance)
	instanceKid := store.InstantiateSubobjectProperty(mut, 1)
	store.Commit(mut, NoUndoScope)

	kidMut := store.Write(instanceKid)
	store.SetProperty(kidMut, 0, "renamed")
	store.Commit(kidMut, NoUndoScope)

	store.PropagateObject(instance, map[ObjectID]bool{instanceKid: true}, NoUndoScope)

	assert.True(t, store.IsOverridden(instanceKid, 0), "skipSet must keep this subobject's override")
	assert.Equal(t, "", store.GetProperty(protoKid, 0), "propagation into the skipped subobject must not have happened")
}

// TestInstantiateSubobjectPropertyRequiresPrototype covers the documented
// failure mode: instantiate_subobject(owner, property) must fail when
// owner's prototype has no subobject at property.
func TestInstantiateSubobjectPropertyRequiresPrototype(t *testing.T) {
	store, parent, _ := newPrototypeTestStore(t)

	root := store.Create(parent, ObjectID{})
	mut := store.Write(root)
	got := store.InstantiateSubobjectProperty(mut, 1)
	assert.True(t, got.IsNil(), "no prototype at all must fail")

	proto := store.Create(parent, ObjectID{}) // prototype has no "kid" set
	instance := store.Create(parent, proto)
	mut = store.Write(instance)
	got = store.InstantiateSubobjectProperty(mut, 1)
	assert.True(t, got.IsNil(), "prototype with no subobject at the property must fail")
}

// TestInstantiateSubobjectFromSet exercises spec.md §8 scenario S2: a
// SUBOBJECT_SET element inherited from the prototype is instantiated
// locally, and only the instantiated copy picks up the local edit.
func TestInstantiateSubobjectFromSet(t *testing.T) {
	store, parent, child := newPrototypeTestStore(t)

	c1 := store.Create(child, ObjectID{})
	mut := store.Write(c1)
	store.SetProperty(mut, 0, "a")
	store.Commit(mut, NoUndoScope)

	c2 := store.Create(child, ObjectID{})
	mut = store.Write(c2)
	store.SetProperty(mut, 0, "b")
	store.Commit(mut, NoUndoScope)

	p0 := store.Create(parent, ObjectID{})
	mut = store.Write(p0)
	store.AddToSet(mut, 2, c1)
	store.AddToSet(mut, 2, c2)
	store.Commit(mut, NoUndoScope)

	p1 := store.Create(parent, p0)
	assert.ElementsMatch(t, []ObjectID{c1, c2}, store.EffectiveSet(p1, 2))

	mut = store.Write(p1)
	c1Prime := store.InstantiateSubobject(mut, 2, c1)
	store.Commit(mut, NoUndoScope)
	require.False(t, c1Prime.IsNil())

	kidMut := store.Write(c1Prime)
	store.SetProperty(kidMut, 0, "z")
	store.Commit(kidMut, NoUndoScope)

	assert.ElementsMatch(t, []ObjectID{c1Prime, c2}, store.EffectiveSet(p1, 2))
	assert.Equal(t, "z", store.GetProperty(c1Prime, 0))
	assert.Equal(t, "a", store.GetProperty(c1, 0), "the prototype element itself must be unchanged")
}

// TestCancelRemoveFromSetRestoresElement exercises spec.md §4.C's
// cancel_remove_from_prototype_subobject_set: withdrawing a previously
// recorded removal restores the prototype's element to the effective set.
func TestCancelRemoveFromSetRestoresElement(t *testing.T) {
	_, store, ty := newTestStore(t)
	proto := store.Create(ty, ObjectID{})
	a := store.Create(ty, ObjectID{})

	mut := store.Write(proto)
	store.AddToSet(mut, 2, a)
	store.Commit(mut, NoUndoScope)

	instance := store.Create(ty, proto)
	require.ElementsMatch(t, []ObjectID{a}, store.EffectiveSet(instance, 2))

	mut = store.Write(instance)
	store.RemoveFromSet(mut, 2, a)
	store.Commit(mut, NoUndoScope)
	assert.Empty(t, store.EffectiveSet(instance, 2))

	mut = store.Write(instance)
	store.CancelRemoveFromSet(mut, 2, a)
	store.Commit(mut, NoUndoScope)
	assert.ElementsMatch(t, []ObjectID{a}, store.EffectiveSet(instance, 2))
}
