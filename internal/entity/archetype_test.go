package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*ComponentRegistry, ComponentType, ComponentType) {
	t.Helper()
	registry := NewComponentRegistry(nil)
	position := registry.Add(Descriptor{Name: "position", NameHash: hashName("position")})
	velocity := registry.Add(Descriptor{Name: "velocity", NameHash: hashName("velocity")})
	return registry, position, velocity
}

func hashName(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func TestCreateEntityAndColumnAccess(t *testing.T) {
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)

	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)
	require.True(t, store.IsAlive(e))

	ok := store.SetColumnValue(e, position, 42.0)
	require.True(t, ok)
	v, ok := store.ColumnValue(e, position)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestAddRemoveComponentMovesArchetype(t *testing.T) {
	registry, position, velocity := newTestRegistry(t)
	store := NewStore(registry, nil)

	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)
	assert.Equal(t, 1, store.ArchetypeCount())

	store.AddComponent(e, velocity)
	assert.Equal(t, 2, store.ArchetypeCount())
	_, ok := store.ColumnValue(e, velocity)
	assert.True(t, ok)

	store.RemoveComponent(e, position)
	_, ok = store.ColumnValue(e, position)
	assert.False(t, ok)
}

func TestDestroyEntitySwapsLastRowAndRecyclesSlot(t *testing.T) {
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)

	var mask Mask
	mask = mask.Set(position)
	a := store.CreateEntityFromMask(mask)
	b := store.CreateEntityFromMask(mask)
	store.SetColumnValue(a, position, 1.0)
	store.SetColumnValue(b, position, 2.0)

	store.DestroyEntity(a)
	assert.False(t, store.IsAlive(a))
	assert.True(t, store.IsAlive(b))
	v, ok := store.ColumnValue(b, position)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	c := store.CreateEntityFromMask(mask)
	assert.Equal(t, a.Index, c.Index)
	assert.NotEqual(t, a.Generation, c.Generation)
}

func TestParentChildLinkage(t *testing.T) {
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)

	var mask Mask
	mask = mask.Set(position)
	parent := store.CreateEntityFromMask(mask)
	child := store.CreateEntityFromMask(mask)

	store.SetParent(child, parent)
	assert.Equal(t, []EntityID{child}, store.Children(parent))

	store.DestroyEntity(parent)
	assert.False(t, store.IsAlive(child))
}

func TestEntitiesMatchingRequiredAndForbidden(t *testing.T) {
	registry, position, velocity := newTestRegistry(t)
	store := NewStore(registry, nil)

	var posOnly, posVel Mask
	posOnly = posOnly.Set(position)
	posVel = posVel.Set(position).Set(velocity)

	store.CreateEntityFromMask(posOnly)
	store.CreateEntityFromMask(posVel)

	var required Mask
	required = required.Set(position)
	matches := store.EntitiesMatching(required, Mask{})
	total := 0
	for _, m := range matches {
		total += len(m.Entities)
	}
	assert.Equal(t, 2, total)

	var forbidden Mask
	forbidden = forbidden.Set(velocity)
	matches = store.EntitiesMatching(required, forbidden)
	total = 0
	for _, m := range matches {
		total += len(m.Entities)
	}
	assert.Equal(t, 1, total)
}
