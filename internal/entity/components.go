package entity

import cserrors "corestate/internal/support/errors"

// RegisterMode controls how the Component Registry populates itself at
// context startup.
type RegisterMode int

const (
	// RegisterAll pulls every component descriptor the host process has
	// registered globally.
	RegisterAll RegisterMode = iota
	// RegisterEditor pulls only descriptors flagged editor-visible.
	RegisterEditor
	// RegisterNone starts empty; the caller adds descriptors explicitly.
	RegisterNone
)

// Descriptor is a component_descriptor: everything the archetype store
// needs to lay out, default-initialize, and move a component's column.
type Descriptor struct {
	Name       string
	NameHash   uint64
	Size       uintptr
	Alignment  uintptr
	EditorOnly bool

	// DefaultData, if non-nil, is copied into a freshly appended row
	// before Add fires.
	DefaultData []byte

	// Add/Remove are invoked after a row is initialized into, or before
	// it is removed from, an archetype's column for this component.
	Add    func(e EntityID, data []byte)
	Remove func(e EntityID, data []byte)
}

// globalDescriptors is the process-wide registration list a context's
// ComponentRegistry pulls from under RegisterAll/RegisterEditor, standing
// in for the source engine's global "register_component" interface list.
var globalDescriptors []Descriptor

// RegisterGlobalComponent appends to the process-wide component list
// consulted by RegisterAll/RegisterEditor. Called from an init() in each
// component's defining package.
func RegisterGlobalComponent(d Descriptor) {
	globalDescriptors = append(globalDescriptors, d)
}

// ComponentRegistry is the per-context Component Registry: a dense table
// of descriptors plus a name_hash -> index map.
type ComponentRegistry struct {
	reporter    cserrors.Reporter
	descriptors []Descriptor
	byHash      map[uint64]ComponentType
	disabled    map[uint64]bool
}

// NewComponentRegistry builds an empty registry. reporter may be nil.
func NewComponentRegistry(reporter cserrors.Reporter) *ComponentRegistry {
	if reporter == nil {
		reporter = cserrors.Default
	}
	return &ComponentRegistry{
		reporter: reporter,
		byHash:   make(map[uint64]ComponentType),
		disabled: make(map[uint64]bool),
	}
}

// DisableComponent marks nameHash to be skipped by the next CreateComponents
// call. Must be called before CreateComponents to take effect.
func (r *ComponentRegistry) DisableComponent(nameHash uint64) {
	r.disabled[nameHash] = true
}

// Add registers d explicitly, used under RegisterNone or to add a
// component the global list doesn't carry.
func (r *ComponentRegistry) Add(d Descriptor) ComponentType {
	if len(r.descriptors) >= MaxComponentTypes {
		err := cserrors.New(cserrors.CodeComponentLimitReached, "component limit %d reached adding %q", MaxComponentTypes, d.Name)
		r.reporter.Fatal("entity/components.go", 0, "%s", err)
	}
	idx := ComponentType(len(r.descriptors))
	r.descriptors = append(r.descriptors, d)
	r.byHash[d.NameHash] = idx
	return idx
}

// CreateComponents populates the registry from the global descriptor list
// under mode ALL/EDITOR, skipping anything disabled via DisableComponent.
// Under RegisterNone it is a no-op; callers must have already used Add.
func (r *ComponentRegistry) CreateComponents(mode RegisterMode) {
	if mode == RegisterNone {
		return
	}
	for _, d := range globalDescriptors {
		if r.disabled[d.NameHash] {
			continue
		}
		if mode == RegisterEditor && !d.EditorOnly {
			continue
		}
		r.Add(d)
	}
}

// Lookup returns the ComponentType registered for nameHash.
func (r *ComponentRegistry) Lookup(nameHash uint64) (ComponentType, bool) {
	c, ok := r.byHash[nameHash]
	return c, ok
}

// Descriptor returns the descriptor for c.
func (r *ComponentRegistry) Descriptor(c ComponentType) Descriptor {
	return r.descriptors[c]
}

// Count returns the number of registered component types.
func (r *ComponentRegistry) Count() int {
	return len(r.descriptors)
}
