package entity

import (
	"sync"

	cserrors "corestate/internal/support/errors"
)

type addRemoveOp int

const (
	opAdd addRemoveOp = iota
	opRemove
)

// createCmd is one queued entity creation, either from a bare mask or
// from asset-supplied initial column values.
type createCmd struct {
	mask    Mask
	initial map[ComponentType]interface{}
}

// addRemoveCmd is one queued AddComponent/RemoveComponent, recorded in
// submission order. target is used directly when useHandle is false; a
// deferred handle is resolved against the batch's create results at
// drain time.
type addRemoveCmd struct {
	useHandle bool
	handle    Handle
	target    EntityID
	component ComponentType
	op        addRemoveOp
	scratch   *interface{}
}

type seenKey struct {
	useHandle bool
	handle    Handle
	target    EntityID
	component ComponentType
}

// CommandQueue is the Command Queue: structural mutations (creates,
// component add/remove, destroys, clear_world) submitted during a tick
// are deferred here and applied at the next synchronization point by
// Drain, in the fixed order creates, add/remove (submission order),
// destroys, clear_world.
type CommandQueue struct {
	mu         sync.Mutex
	reporter   cserrors.Reporter
	metrics    *Metrics
	creates    []createCmd
	addRemoves []addRemoveCmd
	destroys   []EntityID
	clearWorld bool
	seen       map[seenKey]bool
}

// NewCommandQueue builds an empty CommandQueue. reporter may be nil.
func NewCommandQueue(reporter cserrors.Reporter) *CommandQueue {
	if reporter == nil {
		reporter = cserrors.Default
	}
	return &CommandQueue{reporter: reporter, seen: make(map[seenKey]bool)}
}

// SetMetrics attaches m so Drain reports per-kind command counts to it.
// Passing nil disables reporting again.
func (q *CommandQueue) SetMetrics(m *Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// CreateEntityFromMask queues a creation and returns a Handle resolving
// to the real EntityID once Drain runs. The handle is the 1-based
// position among this queue's queued creates, numbered together with
// CreateEntityFromAsset's; there is no separate asset_index_in_batch.
func (q *CommandQueue) CreateEntityFromMask(mask Mask) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.creates = append(q.creates, createCmd{mask: mask})
	return Handle(len(q.creates)) // 1-based so the zero Handle stays "none"
}

// CreateEntityFromAsset queues a creation pre-populated with initial
// column values (the persistence bridge resolves these from a Truth
// asset before submitting) and returns its Handle.
func (q *CommandQueue) CreateEntityFromAsset(mask Mask, initial map[ComponentType]interface{}) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.creates = append(q.creates, createCmd{mask: mask, initial: initial})
	return Handle(len(q.creates))
}

// CreateEntitiesFromMask queues count creates sharing mask, returning one
// Handle per entity in submission order (the batch variant).
func (q *CommandQueue) CreateEntitiesFromMask(mask Mask, count int) []Handle {
	out := make([]Handle, count)
	for i := 0; i < count; i++ {
		out[i] = q.CreateEntityFromMask(mask)
	}
	return out
}

// AddComponent queues c to be added to the entity e resolves to once
// Drain runs, returning a scratch slot the caller writes the component's
// initial value into before Drain executes. Queuing the same (e, c) pair
// twice against one queue is rejected with Fatal: the source engine's
// command buffer allows only one add_component per entity per component
// per queue.
func (q *CommandQueue) AddComponent(e EntityID, c ComponentType) *interface{} {
	return q.addRemove(addRemoveCmd{target: e, component: c, op: opAdd})
}

// AddComponentByHandle is AddComponent against an entity created earlier
// in this same queue, identified by the Handle CreateEntityFromMask or
// CreateEntityFromAsset returned.
func (q *CommandQueue) AddComponentByHandle(h Handle, c ComponentType) *interface{} {
	return q.addRemove(addRemoveCmd{useHandle: true, handle: h, component: c, op: opAdd})
}

// RemoveComponent queues c to be removed from e at drain time.
func (q *CommandQueue) RemoveComponent(e EntityID, c ComponentType) {
	q.addRemove(addRemoveCmd{target: e, component: c, op: opRemove})
}

func (q *CommandQueue) addRemove(cmd addRemoveCmd) *interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := seenKey{useHandle: cmd.useHandle, handle: cmd.handle, target: cmd.target, component: cmd.component}
	if q.seen[key] {
		err := cserrors.New(cserrors.CodeDuplicateAddComponent, "duplicate add/remove component %d queued for the same entity in one command queue", cmd.component)
		q.reporter.Fatal("entity/commands.go", 0, "%s", err)
		return nil
	}
	q.seen[key] = true
	if cmd.op == opAdd {
		cmd.scratch = new(interface{})
	}
	q.addRemoves = append(q.addRemoves, cmd)
	return cmd.scratch
}

// DestroyEntity queues e to be destroyed at drain time.
func (q *CommandQueue) DestroyEntity(e EntityID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.destroys = append(q.destroys, e)
}

// DestroyEntities is the batch variant of DestroyEntity.
func (q *CommandQueue) DestroyEntities(es []EntityID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.destroys = append(q.destroys, es...)
}

// ClearWorld queues every live entity for destruction, applied last.
func (q *CommandQueue) ClearWorld() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearWorld = true
}

// Drain applies every queued command against archStore in the fixed
// order creates, add/remove (submission order), destroys, clear_world,
// then resets the queue for the next tick.
func (q *CommandQueue) Drain(archStore *Store) {
	q.mu.Lock()
	creates := q.creates
	addRemoves := q.addRemoves
	destroys := q.destroys
	clearWorld := q.clearWorld
	metrics := q.metrics
	q.creates = nil
	q.addRemoves = nil
	q.destroys = nil
	q.clearWorld = false
	q.seen = make(map[seenKey]bool)
	q.mu.Unlock()

	if metrics != nil {
		if n := len(creates); n > 0 {
			metrics.CommandsApplied.WithLabelValues("create").Add(float64(n))
		}
		if n := len(addRemoves); n > 0 {
			metrics.CommandsApplied.WithLabelValues("add_remove").Add(float64(n))
		}
		if n := len(destroys); n > 0 {
			metrics.CommandsApplied.WithLabelValues("destroy").Add(float64(n))
		}
		if clearWorld {
			metrics.CommandsApplied.WithLabelValues("clear_world").Inc()
		}
	}

	resolved := make([]EntityID, len(creates))
	for i, c := range creates {
		if c.initial != nil {
			resolved[i] = archStore.CreateEntityFromAsset(c.mask, c.initial)
		} else {
			resolved[i] = archStore.CreateEntityFromMask(c.mask)
		}
	}

	resolve := func(cmd addRemoveCmd) (EntityID, bool) {
		if !cmd.useHandle {
			return cmd.target, true
		}
		i := int(cmd.handle) - 1
		if i < 0 || i >= len(resolved) {
			return EntityID{}, false
		}
		return resolved[i], true
	}

	for _, cmd := range addRemoves {
		e, ok := resolve(cmd)
		if !ok {
			continue
		}
		switch cmd.op {
		case opAdd:
			archStore.AddComponent(e, cmd.component)
			if cmd.scratch != nil && *cmd.scratch != nil {
				archStore.SetColumnValue(e, cmd.component, *cmd.scratch)
			}
		case opRemove:
			archStore.RemoveComponent(e, cmd.component)
		}
	}

	for _, e := range destroys {
		archStore.DestroyEntity(e)
	}

	if clearWorld {
		for _, m := range archStore.EntitiesMatching(Mask{}, Mask{}) {
			for _, e := range append([]EntityID(nil), m.Entities...) {
				archStore.DestroyEntity(e)
			}
		}
	}
}
