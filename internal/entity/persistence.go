package entity

import (
	"hash/fnv"
	"sort"
	"sync"

	cserrors "corestate/internal/support/errors"
)

// PersistenceMode selects how a component's data is bridged to the
// Gamestate.
type PersistenceMode int

const (
	// PersistentLocal pushes a serialized byte buffer per component to
	// the Gamestate under a stable persistent ID whenever it changes.
	PersistentLocal PersistenceMode = iota
	// PersistentReplicated does everything PersistentLocal does, plus
	// hands the same changes to the network layer for replication.
	PersistentReplicated
)

// GamestateRepresentation is a component's gamestate_representation
// descriptor: how to turn its column value into bytes the Gamestate
// understands and back.
type GamestateRepresentation struct {
	Serialize         func(value interface{}) []byte
	Deserialize       func(data []byte) interface{}
	ComputeHash       func(value interface{}) uint64
	RestoreSortOrder  int
	LazySerialization bool
}

// PersistenceDescriptor is a component's persistence descriptor.
// ManualTracking components are never walked by
// PropagatePersistenceChangesToGamestate; they push on their own path.
type PersistenceDescriptor struct {
	ManualTracking bool
}

// ReplicationDescriptor is a component's network_replication descriptor.
type ReplicationDescriptor struct {
	WatchTimer float64
}

// GamestateRecord is one component's restored state as read back from
// the Gamestate, keyed by the persistent ID assigned at push time.
type GamestateRecord struct {
	PersistentID uint64
	Component    ComponentType
	Data         []byte
}

// Gamestate is the external authoritative store the bridge projects
// component data into. A concrete implementation lives outside this
// package (e.g. a save-file writer or a network replication root); the
// bridge only needs to push and enumerate records.
type Gamestate interface {
	Push(persistentID uint64, component ComponentType, data []byte, replicated bool)
	Load() []GamestateRecord
}

type componentPersistence struct {
	mode  PersistenceMode
	repr  GamestateRepresentation
	pdesc PersistenceDescriptor
	rdesc ReplicationDescriptor
}

// PersistenceBridge is the Persistence Bridge: it walks entities whose
// components declare a gamestate_representation, detects changes by
// hash, and pushes the changed ones to a Gamestate; on load it restores
// components back in ascending restore_sort_order.
type PersistenceBridge struct {
	reporter   cserrors.Reporter
	gamestate  Gamestate
	registry   *ComponentRegistry
	archetypes *Store

	mu      sync.Mutex
	byType  map[ComponentType]componentPersistence
	lastHash map[persistKey]uint64
	nextPersistentID uint64
	persistentIDs    map[persistKey]uint64
}

type persistKey struct {
	entity    EntityID
	component ComponentType
}

// NewPersistenceBridge builds a bridge over archStore using registry's
// component descriptors, pushing to gamestate. reporter may be nil.
func NewPersistenceBridge(registry *ComponentRegistry, archStore *Store, gamestate Gamestate, reporter cserrors.Reporter) *PersistenceBridge {
	if reporter == nil {
		reporter = cserrors.Default
	}
	return &PersistenceBridge{
		reporter:      reporter,
		gamestate:     gamestate,
		registry:      registry,
		archetypes:    archStore,
		byType:        make(map[ComponentType]componentPersistence),
		lastHash:      make(map[persistKey]uint64),
		persistentIDs: make(map[persistKey]uint64),
	}
}

// Declare registers c's gamestate_representation/persistence/replication
// descriptors and the mode its instances persist under.
func (p *PersistenceBridge) Declare(c ComponentType, mode PersistenceMode, repr GamestateRepresentation, pdesc PersistenceDescriptor, rdesc ReplicationDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byType[c] = componentPersistence{mode: mode, repr: repr, pdesc: pdesc, rdesc: rdesc}
}

func (p *PersistenceBridge) persistentID(key persistKey) uint64 {
	if id, ok := p.persistentIDs[key]; ok {
		return id
	}
	p.nextPersistentID++
	id := p.nextPersistentID
	p.persistentIDs[key] = id
	return id
}

// PropagatePersistenceChangesToGamestate walks every entity with an
// auto-tracked component (persistence.manual_tracking == false), hashes
// its current value, and pushes to the Gamestate only when the hash
// changed since the last propagation.
func (p *PersistenceBridge) PropagatePersistenceChangesToGamestate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c, cp := range p.byType {
		if cp.pdesc.ManualTracking {
			continue
		}
		var required Mask
		required = required.Set(c)
		for _, match := range p.archetypes.EntitiesMatching(required, Mask{}) {
			col := match.Columns[c]
			for i, e := range match.Entities {
				value := col[i]
				key := persistKey{entity: e, component: c}
				hash := p.hashValue(cp, value)
				if prev, ok := p.lastHash[key]; ok && prev == hash {
					continue
				}
				p.lastHash[key] = hash
				data := p.serialize(cp, value)
				p.gamestate.Push(p.persistentID(key), c, data, cp.mode == PersistentReplicated)
			}
		}
	}
}

func (p *PersistenceBridge) hashValue(cp componentPersistence, value interface{}) uint64 {
	if cp.repr.ComputeHash != nil {
		return cp.repr.ComputeHash(value)
	}
	h := fnv.New64a()
	h.Write(p.serialize(cp, value))
	return h.Sum64()
}

func (p *PersistenceBridge) serialize(cp componentPersistence, value interface{}) []byte {
	if cp.repr.Serialize != nil {
		return cp.repr.Serialize(value)
	}
	return nil
}

// RestoreFromGamestate loads every record from the Gamestate and applies
// it to the archetype store's live entities, in ascending
// restore_sort_order, firing each component's Add callback afterward to
// stand in for the source engine's asset_reloaded hook.
func (p *PersistenceBridge) RestoreFromGamestate(byPersistentID map[uint64]EntityID) {
	records := p.gamestate.Load()

	p.mu.Lock()
	sort.SliceStable(records, func(i, j int) bool {
		return p.byType[records[i].Component].repr.RestoreSortOrder < p.byType[records[j].Component].repr.RestoreSortOrder
	})
	descriptors := make(map[ComponentType]componentPersistence, len(p.byType))
	for c, cp := range p.byType {
		descriptors[c] = cp
	}
	p.mu.Unlock()

	for _, rec := range records {
		e, ok := byPersistentID[rec.PersistentID]
		if !ok {
			continue
		}
		cp, ok := descriptors[rec.Component]
		if !ok || cp.repr.Deserialize == nil {
			continue
		}
		value := cp.repr.Deserialize(rec.Data)
		if !p.archetypes.SetColumnValue(e, rec.Component, value) {
			continue
		}
		if add := p.registry.Descriptor(rec.Component).Add; add != nil {
			add(e, rec.Data)
		}
	}
}
