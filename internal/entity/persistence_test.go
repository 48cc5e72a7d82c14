package entity

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGamestate struct {
	pushed []GamestateRecord
}

func (g *fakeGamestate) Push(persistentID uint64, component ComponentType, data []byte, replicated bool) {
	g.pushed = append(g.pushed, GamestateRecord{PersistentID: persistentID, Component: component, Data: data})
}

func (g *fakeGamestate) Load() []GamestateRecord {
	return g.pushed
}

func float64Repr() GamestateRepresentation {
	return GamestateRepresentation{
		Serialize: func(value interface{}) []byte {
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(value.(float64)))
			return buf
		},
		Deserialize: func(data []byte) interface{} {
			return float64(binary.LittleEndian.Uint64(data))
		},
	}
}

func TestPropagatePersistenceChangesToGamestateSkipsUnchangedValues(t *testing.T) {
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)
	gamestate := &fakeGamestate{}
	bridge := NewPersistenceBridge(registry, store, gamestate, nil)
	bridge.Declare(position, PersistentLocal, float64Repr(), PersistenceDescriptor{}, ReplicationDescriptor{})

	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)
	store.SetColumnValue(e, position, 1.0)

	bridge.PropagatePersistenceChangesToGamestate()
	require.Len(t, gamestate.pushed, 1)

	bridge.PropagatePersistenceChangesToGamestate()
	assert.Len(t, gamestate.pushed, 1, "unchanged value must not push again")

	store.SetColumnValue(e, position, 2.0)
	bridge.PropagatePersistenceChangesToGamestate()
	assert.Len(t, gamestate.pushed, 2, "changed value pushes a second record")
}

func TestPropagatePersistenceChangesToGamestateSkipsManualTracking(t *testing.T) {
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)
	gamestate := &fakeGamestate{}
	bridge := NewPersistenceBridge(registry, store, gamestate, nil)
	bridge.Declare(position, PersistentLocal, float64Repr(), PersistenceDescriptor{ManualTracking: true}, ReplicationDescriptor{})

	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)
	store.SetColumnValue(e, position, 1.0)

	bridge.PropagatePersistenceChangesToGamestate()
	assert.Empty(t, gamestate.pushed, "manual_tracking components are never auto-walked")
}

func TestRestoreFromGamestateAppliesSavedValues(t *testing.T) {
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)
	gamestate := &fakeGamestate{}
	bridge := NewPersistenceBridge(registry, store, gamestate, nil)
	bridge.Declare(position, PersistentLocal, float64Repr(), PersistenceDescriptor{}, ReplicationDescriptor{})

	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)
	store.SetColumnValue(e, position, 3.0)
	bridge.PropagatePersistenceChangesToGamestate()
	require.Len(t, gamestate.pushed, 1)
	persistentID := gamestate.pushed[0].PersistentID

	fresh := NewStore(registry, nil)
	e2 := fresh.CreateEntityFromMask(mask)
	restoreBridge := NewPersistenceBridge(registry, fresh, gamestate, nil)
	restoreBridge.Declare(position, PersistentLocal, float64Repr(), PersistenceDescriptor{}, ReplicationDescriptor{})

	restoreBridge.RestoreFromGamestate(map[uint64]EntityID{persistentID: e2})

	v, ok := fresh.ColumnValue(e2, position)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}
