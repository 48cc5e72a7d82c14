package entity

import (
	"context"
	"sync"
	"time"

	cserrors "corestate/internal/support/errors"
)

// Context is the Entity Context: the per-world collaboration of a
// Component Registry, Archetype Store, Engine Scheduler, Blackboard,
// Event Bus, Command Queue and (once attached) Persistence Bridge.
// Engines and Systems reach everything they need through it.
type Context struct {
	Registry    *ComponentRegistry
	Archetypes  *Store
	Scheduler   *Scheduler
	Blackboard  *Blackboard
	Events      *EventBus
	Commands    *CommandQueue
	Persistence *PersistenceBridge
	Metrics     *Metrics

	reporter cserrors.Reporter

	mu           sync.Mutex
	pseudoOwners map[EntityID]EntityID
}

// NewContext wires up a fresh Context: registers components per mode,
// then builds an empty archetype store, scheduler, blackboard, event
// bus and command queue over it. reporter may be nil.
func NewContext(mode RegisterMode, maxWorkers int, reporter cserrors.Reporter) *Context {
	if reporter == nil {
		reporter = cserrors.Default
	}
	registry := NewComponentRegistry(reporter)
	registry.CreateComponents(mode)

	ctx := &Context{
		Registry:     registry,
		Archetypes:   NewStore(registry, reporter),
		Scheduler:    NewScheduler(maxWorkers, reporter),
		Blackboard:   NewBlackboard(),
		Events:       NewEventBus(),
		Commands:     NewCommandQueue(reporter),
		reporter:     reporter,
		pseudoOwners: make(map[EntityID]EntityID),
	}
	ctx.Blackboard.SetFloat(BlackboardDeltaTime, 0)
	ctx.Blackboard.SetFloat(BlackboardTotalTime, 0)
	return ctx
}

// AttachPersistence builds and attaches a PersistenceBridge pushing to
// gamestate, usable once components have been declared on it.
func (c *Context) AttachPersistence(gamestate Gamestate) *PersistenceBridge {
	c.Persistence = NewPersistenceBridge(c.Registry, c.Archetypes, gamestate, c.reporter)
	return c.Persistence
}

// AttachMetrics builds a Metrics under namespace, wires it into the
// command queue so Drain reports per-kind counts, and arranges for Tick
// to sample tick duration and population after every call.
func (c *Context) AttachMetrics(namespace string) *Metrics {
	m := NewMetrics(namespace)
	c.Metrics = m
	c.Commands.SetMetrics(m)
	return m
}

// RegisterEngine adds e to the scheduler's task graph, but only if every
// component it reads or writes is actually present in the Component
// Registry; an engine referencing a component nobody registered (e.g.
// because it was disabled) is silently dropped rather than panicking
// every tick.
func (c *Context) RegisterEngine(e *Engine) {
	for _, acc := range e.Access {
		if int(acc.Type) >= c.Registry.Count() {
			c.reporter.Errorf("entity/context.go", 0, "engine %q references unregistered component %d, dropping", e.Name, acc.Type)
			return
		}
	}
	c.Scheduler.RegisterEngine(e)
}

// RegisterSystem adds sys to the scheduler's task graph.
func (c *Context) RegisterSystem(sys *System) {
	c.Scheduler.RegisterSystem(sys)
}

// Tick advances the blackboard's clock by dt and runs one full
// engine/system update followed by a command queue drain.
func (c *Context) Tick(ctx context.Context, dt float64) error {
	c.Blackboard.SetFloat(BlackboardDeltaTime, dt)
	total, _ := c.Blackboard.Float(BlackboardTotalTime)
	c.Blackboard.SetFloat(BlackboardTotalTime, total+dt)

	start := time.Now()
	err := c.Scheduler.Tick(ctx, c.Archetypes, c, c.Blackboard, c.Commands)
	if c.Metrics != nil {
		c.Metrics.TickDuration.Observe(time.Since(start).Seconds())
		c.Metrics.Observe(c.Archetypes, c.entityCount())
	}
	return err
}

// entityCount sums live entities across every archetype, for metrics only.
func (c *Context) entityCount() int {
	n := 0
	for _, m := range c.Archetypes.EntitiesMatching(Mask{}, Mask{}) {
		n += len(m.Entities)
	}
	return n
}

// CreatePseudoEntity creates an entity owned by owner for transient UI or
// tooling use: unlike SetParent, it is not linked into owner's Children
// list and its mask/version changes are not expected to propagate
// anywhere. It is reversible via ConvertPseudoEntityToRegular.
func (c *Context) CreatePseudoEntity(owner EntityID, mask Mask) EntityID {
	e := c.Archetypes.CreateEntityFromMask(mask)
	c.mu.Lock()
	c.pseudoOwners[e] = owner
	c.mu.Unlock()
	return e
}

// IsPseudoEntity reports whether e was created via CreatePseudoEntity and
// has not since been converted back.
func (c *Context) IsPseudoEntity(e EntityID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pseudoOwners[e]
	return ok
}

// ConvertPseudoEntityToRegular promotes e out of pseudo status, linking
// it into parent's Children list like any regularly created entity.
func (c *Context) ConvertPseudoEntityToRegular(e, parent EntityID) {
	c.mu.Lock()
	delete(c.pseudoOwners, e)
	c.mu.Unlock()
	c.Archetypes.SetParent(e, parent)
}

// DestroyPseudoEntitiesOwnedBy destroys every still-pseudo entity owned
// by owner, used when owner itself is destroyed or a transient UI
// session ends.
func (c *Context) DestroyPseudoEntitiesOwnedBy(owner EntityID) {
	c.mu.Lock()
	var dead []EntityID
	for e, o := range c.pseudoOwners {
		if o == owner {
			dead = append(dead, e)
			delete(c.pseudoOwners, e)
		}
	}
	c.mu.Unlock()
	for _, e := range dead {
		c.Archetypes.DestroyEntity(e)
	}
}
