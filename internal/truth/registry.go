package truth

import (
	"sync"

	cserrors "corestate/internal/support/errors"
)

// Registry is the Type Registry. Type creation is
// single-threaded and only ever called during startup; everything else
// (aspect lookup, property lookup) is read-mostly and safe for concurrent
// readers once the startup phase has finished.
type Registry struct {
	mu       sync.RWMutex
	types    []*Type // index 0 is the reserved "no type" sentinel
	byName   map[string]TypeIndex
	byHash   map[uint64]TypeIndex
	reporter cserrors.Reporter
}

// NewRegistry builds an empty Registry. reporter may be nil to use the
// package-wide default.
func NewRegistry(reporter cserrors.Reporter) *Registry {
	if reporter == nil {
		reporter = cserrors.Default
	}
	return &Registry{
		types:    []*Type{{Name: "", Index: 0}},
		byName:   map[string]TypeIndex{"": 0},
		byHash:   map[uint64]TypeIndex{0: 0},
		reporter: reporter,
	}
}

// CreateType creates a new object type with the given name and properties.
// Re-registering an existing name returns the existing index; a
// duplicate name with different properties is rejected via Fatal, since
// that can only happen from a startup-time programmer error.
func (r *Registry) CreateType(name string, props []Property) TypeIndex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(props) > MaxProperties {
		err := cserrors.New(cserrors.CodeTooManyProperties, "type %q declares %d properties, max is %d", name, len(props), MaxProperties)
		r.reporter.Fatal("truth/registry.go", 0, "%s", err)
		return 0
	}

	if idx, ok := r.byName[name]; ok {
		existing := r.types[idx]
		if !propertiesEqual(existing.Properties, props) {
			err := cserrors.New(cserrors.CodeDuplicateTypeName, "type %q re-registered with different properties", name)
			r.reporter.Fatal("truth/registry.go", 0, "%s", err)
		}
		return idx
	}

	idx := TypeIndex(len(r.types))
	t := &Type{
		Name:       name,
		NameHash:   hashString(name),
		Properties: append([]Property(nil), props...),
		Index:      idx,
	}
	r.types = append(r.types, t)
	r.byName[name] = idx
	r.byHash[t.NameHash] = idx
	return idx
}

func propertiesEqual(a, b []Property) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Kind != b[i].Kind {
			return false
		}
	}
	return true
}

// AddProperties appends extra_properties to an existing type. Existing
// snapshots are not eagerly rewritten: reads of a back-filled property on
// an old snapshot simply find nothing in scalars/sets and fall back to
// the property kind's zero value, which is observationally identical to
// an eager zero-fill.
func (r *Registry) AddProperties(t TypeIndex, extra []Property) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ty := r.types[t]
	if len(ty.Properties)+len(extra) > MaxProperties {
		err := cserrors.New(cserrors.CodeTooManyProperties, "type %q would exceed %d properties", ty.Name, MaxProperties)
		r.reporter.Fatal("truth/registry.go", 0, "%s", err)
		return
	}
	ty.Properties = append(ty.Properties, extra...)
}

// SetDefaultObject sets the object cloned when creating new objects of t.
func (r *Registry) SetDefaultObject(t TypeIndex, id ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t].DefaultObjectID = id
}

// DefaultObject returns the default object of t, or the nil ObjectID if
// none was set.
func (r *Registry) DefaultObject(t TypeIndex) ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[t].DefaultObjectID
}

// SetAspect associates an aspect (an arbitrary interface implementation)
// with a type, keyed by a stable aspect identifier hash.
func (r *Registry) SetAspect(t TypeIndex, aspectID uint64, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ty := r.types[t]
	if ty.aspects == nil {
		ty.aspects = make(map[uint64]interface{})
	}
	ty.aspects[aspectID] = data
}

var defaultAspects = struct {
	mu sync.RWMutex
	m  map[uint64]interface{}
}{m: make(map[uint64]interface{})}

// SetDefaultAspect registers a fallback aspect implementation returned by
// GetAspect when no type-specific aspect is set. Default aspects are
// process-wide, matching the source engine's tm_the_truth_api semantics.
func (r *Registry) SetDefaultAspect(aspectID uint64, data interface{}) {
	defaultAspects.mu.Lock()
	defer defaultAspects.mu.Unlock()
	defaultAspects.m[aspectID] = data
}

// SetPropertyAspect associates an aspect with a single property of a type.
func (r *Registry) SetPropertyAspect(t TypeIndex, property uint32, aspectID uint64, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ty := r.types[t]
	if ty.propertyAspects == nil {
		ty.propertyAspects = make(map[uint32]map[uint64]interface{})
	}
	if ty.propertyAspects[property] == nil {
		ty.propertyAspects[property] = make(map[uint64]interface{})
	}
	ty.propertyAspects[property][aspectID] = data
}

// GetAspect returns the per-type aspect, falling back to the default
// aspect, or nil if neither is set.
func (r *Registry) GetAspect(t TypeIndex, aspectID uint64) interface{} {
	r.mu.RLock()
	ty := r.types[t]
	if ty.aspects != nil {
		if v, ok := ty.aspects[aspectID]; ok {
			r.mu.RUnlock()
			return v
		}
	}
	r.mu.RUnlock()
	defaultAspects.mu.RLock()
	defer defaultAspects.mu.RUnlock()
	return defaultAspects.m[aspectID]
}

// GetPropertyAspect returns the aspect registered for a specific property,
// or nil.
func (r *Registry) GetPropertyAspect(t TypeIndex, property uint32, aspectID uint64) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ty := r.types[t]
	if ty.propertyAspects == nil {
		return nil
	}
	return ty.propertyAspects[property][aspectID]
}

// ReloadAspects clears all per-type aspects (used after a code reload) so
// callers can re-register. Default aspects are left intact since they are
// typically re-set by the same startup code path that calls this.
func (r *Registry) ReloadAspects() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ty := range r.types {
		ty.aspects = nil
		ty.propertyAspects = nil
	}
}

// FindProperty returns the index of a property matching name_hash and
// kind, or ok=false if no such property exists.
func (r *Registry) FindProperty(t TypeIndex, nameHash uint64, kind PropertyKind) (idx uint32, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ty := r.types[t]
	for i, p := range ty.Properties {
		if p.NameHash == nameHash {
			if p.Kind != kind {
				return 0, false
			}
			return uint32(i), true
		}
	}
	return 0, false
}

// Type returns the Type record for t.
func (r *Registry) Type(t TypeIndex) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[t]
}

// TypeFromHash returns the type registered under nameHash, calling Fatal
// if none exists (mirrors tm_the_truth_api->object_type_from_name_hash,
// which assumes the type exists).
func (r *Registry) TypeFromHash(nameHash uint64) TypeIndex {
	idx, ok := r.TryTypeFromHash(nameHash)
	if !ok {
		err := cserrors.New(cserrors.CodeUnknownType, "no type registered for hash %x", nameHash)
		r.reporter.Fatal("truth/registry.go", 0, "%s", err)
	}
	return idx
}

// TryTypeFromHash is the non-fatal counterpart of TypeFromHash.
func (r *Registry) TryTypeFromHash(nameHash uint64) (TypeIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byHash[nameHash]
	return idx, ok
}

// NumTypes returns the number of registered types, including the type-0
// sentinel.
func (r *Registry) NumTypes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// hashString is a small FNV-1a over the type/property name space, used
// to derive a stable name_hash for types and properties. It does not
// need to be cryptographically strong, only stable within a process.
func hashString(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
