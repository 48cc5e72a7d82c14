package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusNotifyComponentGroupsByOwner(t *testing.T) {
	bus := NewEventBus()
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)
	var mask Mask
	mask = mask.Set(position)
	a := store.CreateEntityFromMask(mask)
	b := store.CreateEntityFromMask(mask)

	var fired [][]EntityID
	owner := uintptr(1)
	bus.ListenComponent(owner, a, position, func(_ ComponentType, entities []EntityID) {
		fired = append(fired, append([]EntityID(nil), entities...))
	})
	bus.ListenComponent(owner, b, position, func(_ ComponentType, entities []EntityID) {
		fired = append(fired, append([]EntityID(nil), entities...))
	})

	bus.NotifyComponent(position, []EntityID{a, b})

	assert.Len(t, fired, 1, "both registrations share one owner, so they fire as a single batched call")
	assert.ElementsMatch(t, []EntityID{a, b}, fired[0])
}

func TestEventBusNotifyEventPassesDataToListeners(t *testing.T) {
	bus := NewEventBus()
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)
	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)

	const damageEvent = uint64(42)
	var got []interface{}
	bus.ListenEvent(1, e, damageEvent, func(_ []EntityID, data []interface{}) {
		got = data
	})

	bus.NotifyEvent(damageEvent, []EntityID{e}, []interface{}{10})
	assert.Equal(t, []interface{}{10}, got)
}

func TestEventBusUnlistenAllRemovesOwnersRegistrations(t *testing.T) {
	bus := NewEventBus()
	registry, position, _ := newTestRegistry(t)
	store := NewStore(registry, nil)
	var mask Mask
	mask = mask.Set(position)
	e := store.CreateEntityFromMask(mask)

	calls := 0
	owner := uintptr(7)
	bus.ListenComponent(owner, e, position, func(ComponentType, []EntityID) { calls++ })
	bus.ListenEvent(owner, e, 1, func([]EntityID, []interface{}) { calls++ })

	bus.UnlistenAll(owner)

	bus.NotifyComponent(position, []EntityID{e})
	bus.NotifyEvent(1, []EntityID{e}, nil)

	assert.Equal(t, 0, calls, "UnlistenAll must drop both component and event registrations for owner")
}
