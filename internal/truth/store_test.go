package truth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Registry, *Store, TypeIndex) {
	t.Helper()
	reg := NewRegistry(nil)
	ty := reg.CreateType("test_object", []Property{
		{Name: "health", NameHash: hashString("health"), Kind: KindU32},
		{Name: "name", NameHash: hashString("name"), Kind: KindString},
		{Name: "children", NameHash: hashString("children"), Kind: KindSubobjectSet},
	})
	store := NewStore(reg, nil)
	return reg, store, ty
}

func TestCreateReadWriteCommit(t *testing.T) {
	_, store, ty := newTestStore(t)

	id := store.Create(ty, ObjectID{})
	require.False(t, id.IsNil())
	assert.True(t, store.IsAlive(id))

	mut := store.Write(id)
	store.SetProperty(mut, 0, uint32(100))
	store.Commit(mut, NoUndoScope)

	snap := store.Read(id)
	require.NotNil(t, snap)
	assert.Equal(t, uint32(100), snap.scalars[0])
}

func TestPrototypeInheritance(t *testing.T) {
	_, store, ty := newTestStore(t)

	proto := store.Create(ty, ObjectID{})
	mut := store.Write(proto)
	store.SetProperty(mut, 0, uint32(50))
	store.Commit(mut, NoUndoScope)

	instance := store.Create(ty, proto)
	assert.Equal(t, uint32(50), store.GetProperty(instance, 0))
	assert.False(t, store.IsOverridden(instance, 0))

	mut = store.Write(instance)
	store.SetProperty(mut, 0, uint32(75))
	store.Commit(mut, NoUndoScope)

	assert.Equal(t, uint32(75), store.GetProperty(instance, 0))
	assert.True(t, store.IsOverridden(instance, 0))
	assert.Equal(t, uint32(50), store.GetProperty(proto, 0))
}

func TestUndoRedoRoundTrip(t *testing.T) {
	_, store, ty := newTestStore(t)
	id := store.Create(ty, ObjectID{})

	scope := store.CreateUndoScope("set health")
	mut := store.Write(id)
	store.SetProperty(mut, 0, uint32(10))
	store.Commit(mut, scope)

	mut = store.Write(id)
	store.SetProperty(mut, 0, uint32(20))
	store.Commit(mut, scope)

	require.Equal(t, uint32(20), store.GetProperty(id, 0))

	require.True(t, store.Undo(scope))
	assert.Equal(t, uint32(0), store.GetProperty(id, 0))
	assert.False(t, store.Undo(scope), "already undone, no actions left to replay")

	require.True(t, store.Redo(scope))
	assert.Equal(t, uint32(20), store.GetProperty(id, 0))
	assert.False(t, store.Redo(scope), "already redone, nothing left to redo")
}

// TestUndoOutOfOrder exercises spec.md's scenario S3: two independent
// scopes may be undone and redone in either order, not just LIFO.
func TestUndoOutOfOrder(t *testing.T) {
	_, store, ty := newTestStore(t)

	s1 := store.CreateUndoScope("create")
	id := store.CreateWithScope(ty, ObjectID{}, s1)

	s2 := store.CreateUndoScope("set health")
	mut := store.Write(id)
	store.SetProperty(mut, 0, uint32(7))
	store.Commit(mut, s2)

	require.True(t, store.Undo(s2))
	assert.Equal(t, uint32(0), store.GetProperty(id, 0))
	assert.True(t, store.IsAlive(id))

	require.True(t, store.Undo(s1))
	assert.False(t, store.IsAlive(id), "undoing the creation scope must make O not-alive (S3)")

	require.True(t, store.Redo(s1))
	assert.True(t, store.IsAlive(id))
	assert.Equal(t, uint32(0), store.GetProperty(id, 0))

	require.True(t, store.Redo(s2))
	assert.Equal(t, uint32(7), store.GetProperty(id, 0))
}

// TestCreateFromDefaultObjectGetsFreshVersion exercises testable property
// #2 (version monotonicity) against the DefaultObject-clone path: cloning
// the type's default object into a new slot must still bump the version
// counter, not inherit the default object's own version.
func TestCreateFromDefaultObjectGetsFreshVersion(t *testing.T) {
	reg, store, ty := newTestStore(t)

	def := store.Create(ty, ObjectID{})
	mut := store.Write(def)
	store.SetProperty(mut, 0, uint32(5))
	store.Commit(mut, NoUndoScope)
	defVersion := store.Read(def).version

	reg.SetDefaultObject(ty, def)

	id := store.Create(ty, ObjectID{})
	require.NotEqual(t, def, id)
	snap := store.Read(id)
	require.NotNil(t, snap)
	assert.Greater(t, snap.version, defVersion, "cloning the default object must still bump the version counter")
	assert.Equal(t, uint32(5), snap.scalars[0], "the clone still starts from the default object's values")
}

func TestDestroyRecyclesSlotWithNewGeneration(t *testing.T) {
	_, store, ty := newTestStore(t)
	id := store.Create(ty, ObjectID{})
	store.Destroy(id)
	assert.False(t, store.IsAlive(id))

	// With no instances referencing id as a prototype, GarbageCollect
	// finalizes the reclaim at the next safe point.
	store.GarbageCollect(nil)
	id2 := store.Create(ty, ObjectID{})
	assert.Equal(t, id.SlotIndex, id2.SlotIndex)
	assert.NotEqual(t, id.Generation, id2.Generation)
	assert.False(t, store.IsAlive(id), "id must stay not-alive even though its slot was reused")
}

// TestDestroyGhostsPrototypeWithLiveInstances exercises spec.md §3's
// "Destroying a prototype transitions it to a 'ghost' state (readable,
// is_alive == false) as long as any instance references it" invariant.
func TestDestroyGhostsPrototypeWithLiveInstances(t *testing.T) {
	_, store, ty := newTestStore(t)
	proto := store.Create(ty, ObjectID{})
	mut := store.Write(proto)
	store.SetProperty(mut, 0, uint32(42))
	store.Commit(mut, NoUndoScope)

	instance := store.Create(ty, proto)

	store.Destroy(proto)
	assert.False(t, store.IsAlive(proto))
	assert.True(t, store.IsGhost(proto))
	// Still readable: the instance's inherited value keeps resolving.
	assert.Equal(t, uint32(42), store.GetProperty(instance, 0))

	store.GarbageCollect(nil)
	assert.True(t, store.IsGhost(proto), "still instantiated, not yet reclaimed")
	assert.Equal(t, uint32(42), store.GetProperty(instance, 0))

	store.Destroy(instance)
	store.GarbageCollect(nil)
	assert.False(t, store.IsGhost(proto), "last instance gone, prototype reclaimed")
}

func TestChangedObjectsRingBuffer(t *testing.T) {
	_, store, ty := newTestStore(t)
	id := store.Create(ty, ObjectID{})

	mut := store.Write(id)
	store.SetProperty(mut, 0, uint32(1))
	store.Commit(mut, NoUndoScope)

	objs, overflow := store.ChangedObjects(ty, 0)
	assert.False(t, overflow)
	assert.Contains(t, objs, id)
}

func TestSetMergeAddRemove(t *testing.T) {
	_, store, ty := newTestStore(t)
	owner := store.Create(ty, ObjectID{})
	a := store.Create(ty, ObjectID{})
	b := store.Create(ty, ObjectID{})

	mut := store.Write(owner)
	store.AddToSet(mut, 2, a)
	store.AddToSet(mut, 2, b)
	store.Commit(mut, NoUndoScope)

	assert.ElementsMatch(t, []ObjectID{a, b}, store.EffectiveSet(owner, 2))

	mut = store.Write(owner)
	store.RemoveFromSet(mut, 2, a)
	store.Commit(mut, NoUndoScope)

	assert.ElementsMatch(t, []ObjectID{b}, store.EffectiveSet(owner, 2))
}

// TestTryCommitSucceedsWithoutConcurrentWriter exercises spec.md's
// try_write/try_commit optimistic path: a commit against the version it
// was based on publishes normally.
func TestTryCommitSucceedsWithoutConcurrentWriter(t *testing.T) {
	_, store, ty := newTestStore(t)
	id := store.Create(ty, ObjectID{})

	mut, base := store.TryWrite(id)
	require.NotNil(t, mut)
	store.SetProperty(mut, 0, uint32(9))

	ok := store.TryCommit(mut, base, NoUndoScope)
	assert.True(t, ok)
	assert.Equal(t, uint32(9), store.GetProperty(id, 0))
}

// TestTryCommitFailsOnConcurrentWriter exercises the CAS-on-version-mismatch
// half of the same invariant: a commit based on a stale version is
// discarded and reports false rather than clobbering the winner.
func TestTryCommitFailsOnConcurrentWriter(t *testing.T) {
	_, store, ty := newTestStore(t)
	id := store.Create(ty, ObjectID{})

	mutA, baseA := store.TryWrite(id)
	mutB, baseB := store.TryWrite(id)
	require.Equal(t, baseA, baseB)

	store.SetProperty(mutA, 0, uint32(1))
	require.True(t, store.TryCommit(mutA, baseA, NoUndoScope))

	store.SetProperty(mutB, 0, uint32(2))
	ok := store.TryCommit(mutB, baseB, NoUndoScope)
	assert.False(t, ok, "second committer raced against the first and must lose")
	assert.Equal(t, uint32(1), store.GetProperty(id, 0), "the winning writer's value must stick")
}

func TestGarbageCollectReclaimsUnreachableSubobjects(t *testing.T) {
	_, store, ty := newTestStore(t)
	owner := store.Create(ty, ObjectID{})
	child := store.CreateSubobject(ty, owner, ObjectID{})

	mut := store.Write(owner)
	store.AddToSet(mut, 2, child)
	store.Commit(mut, NoUndoScope)

	store.GarbageCollect([]ObjectID{owner})
	assert.True(t, store.IsAlive(child))

	store.GarbageCollect(nil)
	assert.False(t, store.IsAlive(child))
}
