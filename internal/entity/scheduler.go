package entity

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	cserrors "corestate/internal/support/errors"
)

// ArchetypeArray is one archetype's contribution to an Engine's update: a
// pair of (entities, component columns) where Columns is ordered to match
// the Engine's declared Access order; the row count is len(Entities).
type ArchetypeArray struct {
	Entities []EntityID
	Columns  []column
}

// UpdateSet is handed to an Engine's Update function for one tick: every
// matching archetype's arrays, plus the blackboard the engine reads
// global values from (its getters take a shared read lock).
type UpdateSet struct {
	Engine     *Engine
	Arrays     []ArchetypeArray
	Blackboard *Blackboard
}

// ComponentAccess declares whether an Engine reads or writes one
// component, driving the scheduler's conflict analysis.
type ComponentAccess struct {
	Type  ComponentType
	Write bool
}

// Engine is a parallelizable update function with direct column access,
// producing one task per matching archetype group.
type Engine struct {
	Name      string
	Hash      uint64
	Phase     uint64
	Access    []ComponentAccess
	Required  Mask
	Excluded  Mask
	Filter    func(Mask) bool
	Exclusive bool
	Priority  Priority
	BeforeMe  []uint64
	AfterMe   []uint64
	Update    func(ctx context.Context, set UpdateSet) error
}

func (e *Engine) readWriteMasks() (reads, writes Mask) {
	for _, a := range e.Access {
		reads = reads.Set(a.Type)
		if a.Write {
			writes = writes.Set(a.Type)
		}
	}
	return reads, writes
}

func (e *Engine) matches(mask Mask) bool {
	if e.Filter != nil {
		return e.Filter(mask)
	}
	return mask.HasAll(e.Required) && !mask.HasAny(e.Excluded)
}

// System is a parallelizable update function with no direct column
// access; it reaches into the Context for data instead.
type System struct {
	Name       string
	Hash       uint64
	Phase      uint64
	Exclusive  bool
	Priority   Priority
	BeforeMe   []uint64
	AfterMe    []uint64
	Init       func(ctx *Context) error
	Update     func(ctx *Context, commands *CommandQueue) error
	Shutdown   func(ctx *Context)
	HotReload  func(ctx *Context)
	initCalled bool
}

type task struct {
	index     int
	reads     Mask
	writes    Mask
	exclusive bool
	priority  Priority
	hash      uint64
	phase     uint64
	beforeMe  []uint64
	afterMe   []uint64
	run       func(ctx context.Context) error
}

func conflicts(a, b *task) bool {
	if a.exclusive || b.exclusive {
		return true
	}
	if a.writes.HasAny(b.reads) || a.writes.HasAny(b.writes) {
		return true
	}
	if b.writes.HasAny(a.reads) {
		return true
	}
	return false
}

func hintsBefore(a, b *task) bool {
	for _, h := range a.beforeMe {
		if h == b.hash || h == b.phase {
			return true
		}
	}
	for _, h := range b.afterMe {
		if h == a.hash || h == a.phase {
			return true
		}
	}
	return false
}

// Scheduler builds and executes the per-tick task graph: one task per
// engine with at least one matching archetype (covering all of them)
// plus one per registered system,
// ordered by read/write conflict analysis with before_me/after_me used
// only as a tie-break when no data hazard exists.
type Scheduler struct {
	reporter   cserrors.Reporter
	engines    []*Engine
	systems    []*System
	maxWorkers int64
}

// NewScheduler builds a Scheduler bounding concurrent task execution to
// maxWorkers (0 or a negative value means a default bound of 64).
func NewScheduler(maxWorkers int, reporter cserrors.Reporter) *Scheduler {
	if reporter == nil {
		reporter = cserrors.Default
	}
	if maxWorkers <= 0 {
		maxWorkers = 64
	}
	return &Scheduler{reporter: reporter, maxWorkers: int64(maxWorkers)}
}

// RegisterEngine adds an engine to the update graph. Engines whose
// required components are missing from the Component Registry are
// silently dropped by the caller before registration (see
// Context.RegisterEngine).
func (s *Scheduler) RegisterEngine(e *Engine) { s.engines = append(s.engines, e) }

// RegisterSystem adds a system to the update graph.
func (s *Scheduler) RegisterSystem(sys *System) { s.systems = append(s.systems, sys) }

// Tick runs one full update: builds the task graph for the current
// archetype population, executes it in conflict-respecting topological
// waves, then drains cmdQueue.
func (s *Scheduler) Tick(ctx context.Context, archStore *Store, ectx *Context, bb *Blackboard, cmdQueue *CommandQueue) error {
	tasks := s.buildTasks(archStore, ectx, bb, cmdQueue)
	if err := s.execute(ctx, tasks); err != nil {
		return err
	}
	cmdQueue.Drain(archStore)
	return nil
}

func (s *Scheduler) buildTasks(archStore *Store, ectx *Context, bb *Blackboard, cmdQueue *CommandQueue) []*task {
	var tasks []*task
	idx := 0
	for _, e := range s.engines {
		reads, writes := e.readWriteMasks()
		matches := archStore.EntitiesMatching(Mask{}, Mask{})
		var arrays []ArchetypeArray
		for _, m := range matches {
			archMask := maskOfColumns(archStore, m)
			if !e.matches(archMask) {
				continue
			}
			cols := make([]column, len(e.Access))
			for i, acc := range e.Access {
				cols[i] = m.Columns[acc.Type]
			}
			arrays = append(arrays, ArchetypeArray{Entities: m.Entities, Columns: cols})
		}
		if len(arrays) == 0 {
			continue
		}
		set := UpdateSet{Engine: e, Arrays: arrays, Blackboard: bb}
		eng := e
		tasks = append(tasks, &task{
			index: idx, reads: reads, writes: writes, exclusive: eng.Exclusive, priority: eng.Priority,
			hash: eng.Hash, phase: eng.Phase, beforeMe: eng.BeforeMe, afterMe: eng.AfterMe,
			run: func(ctx context.Context) error { return eng.Update(ctx, set) },
		})
		idx++
	}
	for _, sys := range s.systems {
		sy := sys
		if !sy.initCalled && sy.Init != nil {
			if err := sy.Init(ectx); err != nil {
				s.reporter.Errorf("entity/scheduler.go", 0, "system %q init failed: %v", sy.Name, err)
				continue
			}
			sy.initCalled = true
		}
		tasks = append(tasks, &task{
			index: idx, exclusive: sy.Exclusive, priority: sy.Priority, hash: sy.Hash, phase: sy.Phase,
			beforeMe: sy.BeforeMe, afterMe: sy.AfterMe,
			run: func(ctx context.Context) error {
				if sy.Update == nil {
					return nil
				}
				return sy.Update(ectx, cmdQueue)
			},
		})
		idx++
	}
	return tasks
}

// maskOfColumns derives the archetype mask an ArchetypeMatch was drawn
// from by OR-ing the component types present in its Columns map (the
// mask itself isn't carried on ArchetypeMatch to avoid exposing internal
// archetype identity outside the package).
func maskOfColumns(_ *Store, m ArchetypeMatch) Mask {
	var mask Mask
	for c := range m.Columns {
		mask = mask.Set(c)
	}
	return mask
}

// execute runs tasks in conflict-respecting topological waves: all tasks
// with no unresolved in-edge run concurrently (bounded by maxWorkers),
// then the next wave, until every task has run.
func (s *Scheduler) execute(ctx context.Context, tasks []*task) error {
	n := len(tasks)
	if n == 0 {
		return nil
	}
	// edges[i] lists tasks that must complete before tasks[i] runs.
	edges := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := tasks[i], tasks[j]
			if conflicts(a, b) {
				edges[j] = append(edges[j], i) // declaration order breaks the tie
				continue
			}
			if hintsBefore(a, b) {
				edges[j] = append(edges[j], i)
			} else if hintsBefore(b, a) {
				edges[i] = append(edges[i], j)
			}
		}
	}

	done := make([]bool, n)
	remaining := n
	sem := semaphore.NewWeighted(s.maxWorkers)

	for remaining > 0 {
		var wave []int
		for i := 0; i < n; i++ {
			if done[i] {
				continue
			}
			ready := true
			for _, dep := range edges[i] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			// A cycle slipped through (contradictory before_me/after_me
			// hints); break it deterministically by declaration order
			// rather than deadlocking the tick.
			for i := 0; i < n; i++ {
				if !done[i] {
					wave = append(wave, i)
					break
				}
			}
		}
		// Within a wave, data hazards are already resolved by the edges
		// above; higher Priority tasks are simply dispatched first so they
		// tend to finish earlier when maxWorkers limits concurrency.
		sort.Slice(wave, func(i, j int) bool {
			pi, pj := tasks[wave[i]].priority, tasks[wave[j]].priority
			if pi != pj {
				return pi > pj
			}
			return wave[i] < wave[j]
		})

		g, gctx := errgroup.WithContext(ctx)
		for _, i := range wave {
			i := i
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			g.Go(func() error {
				defer sem.Release(1)
				return tasks[i].run(gctx)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, i := range wave {
			done[i] = true
		}
		remaining -= len(wave)
	}
	return nil
}
