package mod

import (
	stdcontext "context"
	"fmt"
	"hash/fnv"
	"os"
	"reflect"

	lua "github.com/yuin/gopher-lua"

	"corestate/internal/entity"
	cserrors "corestate/internal/support/errors"
	"corestate/internal/truth"
)

// Bridge owns the mod scripting surface for one Entity Context: it
// creates sandboxed VMs, loads/executes scripts against them, and
// registers Lua-authored engines into the context's scheduler.
type Bridge struct {
	reporter cserrors.Reporter
	truth    *truth.Store
	entities *entity.Context
}

// NewBridge builds a Bridge reading from truthStore and registering
// engines into ectx. reporter may be nil.
func NewBridge(truthStore *truth.Store, ectx *entity.Context, reporter cserrors.Reporter) *Bridge {
	if reporter == nil {
		reporter = cserrors.Default
	}
	return &Bridge{reporter: reporter, truth: truthStore, entities: ectx}
}

// CreateVM builds a fresh Lua state under config (DefaultVMConfig() if
// the zero value is passed) with the sandbox applied and the read-only
// `world` API registered.
func (b *Bridge) CreateVM(config VMConfig) (*VM, error) {
	if config == (VMConfig{}) {
		config = DefaultVMConfig()
	}
	state := lua.NewState()
	if state == nil {
		return nil, fmt.Errorf("mod: failed to create lua state")
	}
	applySandbox(state, config.Sandbox)

	vm := &VM{state: state, config: config}
	b.registerWorldAPI(vm)
	return vm, nil
}

// DestroyVM closes vm's underlying Lua state. Safe to call once.
func (b *Bridge) DestroyVM(vm *VM) {
	if vm == nil || vm.state == nil {
		return
	}
	vm.state.Close()
	vm.state = nil
}

// LoadScript reads path from disk without executing it.
func (b *Bridge) LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mod: load script %s: %w", path, err)
	}
	return &Script{Path: path, Source: string(data)}, nil
}

// ExecuteScript runs script's source against vm.
func (b *Bridge) ExecuteScript(vm *VM, script *Script) error {
	if vm == nil || vm.state == nil {
		return fmt.Errorf("mod: vm is closed")
	}
	if err := vm.state.DoString(script.Source); err != nil {
		return fmt.Errorf("mod: script %s failed: %w", script.Path, err)
	}
	if meta, ok := vm.state.GetGlobal("meta").(*lua.LTable); ok {
		script.Meta = ScriptMetadata{
			Name:       meta.RawGetString("name").String(),
			Version:    meta.RawGetString("version").String(),
			Author:     meta.RawGetString("author").String(),
			APIVersion: meta.RawGetString("api_version").String(),
		}
	}
	return nil
}

func applySandbox(state *lua.LState, sandbox SandboxConfig) {
	if sandbox.FileSystemRestricted {
		state.SetGlobal("io", lua.LNil)
		state.SetGlobal("dofile", lua.LNil)
		state.SetGlobal("loadfile", lua.LNil)
	}
	if sandbox.OSCommandsBlocked {
		state.SetGlobal("os", lua.LNil)
	}
	if sandbox.NetworkRestricted {
		state.SetGlobal("socket", lua.LNil)
	}
	state.SetGlobal("debug", lua.LNil)
	state.SetGlobal("package", lua.LNil)
	state.SetGlobal("require", lua.LNil)
}

// registerWorldAPI installs the read-only `world` global a script uses
// to read Truth properties and Entity component data. Every other host
// capability stays unreachable from inside the sandbox.
func (b *Bridge) registerWorldAPI(vm *VM) {
	world := vm.state.NewTable()

	vm.state.SetField(world, "get_property", vm.state.NewFunction(func(l *lua.LState) int {
		typeIdx := truth.TypeIndex(l.CheckInt(1))
		uuidLow := uint32(l.CheckInt(2))
		generation := uint32(l.CheckInt(3))
		slot := uint32(l.CheckInt(4))
		property := uint32(l.CheckInt(5))
		id := truth.ObjectID{TypeIndex: typeIdx, Generation: generation, SlotIndex: slot}
		_ = uuidLow
		v := b.truth.GetProperty(id, property)
		lv, err := goToLua(vm.state, v)
		if err != nil {
			l.Push(lua.LNil)
			return 1
		}
		l.Push(lv)
		return 1
	}))

	vm.state.SetField(world, "component_value", vm.state.NewFunction(func(l *lua.LState) int {
		entIndex := uint32(l.CheckInt(1))
		entGen := uint32(l.CheckInt(2))
		componentName := l.CheckString(3)
		e := entity.EntityID{Index: entIndex, Generation: entGen}
		c, ok := b.entities.Registry.Lookup(hashName(componentName))
		if !ok {
			l.Push(lua.LNil)
			return 1
		}
		v, ok := b.entities.Archetypes.ColumnValue(e, c)
		if !ok {
			l.Push(lua.LNil)
			return 1
		}
		lv, err := goToLua(vm.state, v)
		if err != nil {
			l.Push(lua.LNil)
			return 1
		}
		l.Push(lv)
		return 1
	}))

	vm.state.SetGlobal("world", world)
}

func hashName(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// RegisterEngineFromScript builds an *entity.Engine whose Required mask
// comes from componentNames and whose per-archetype Update calls the
// global Lua function named updateFn once per entity, passing each
// required column's current value and collecting its return values back
// into the columns. Exactly like a missing native component, an engine
// naming a component nobody registered is silently dropped instead of
// registered: plugin unavailability is handled the same way whether the
// engine comes from a script or from native code.
func (b *Bridge) RegisterEngineFromScript(vm *VM, name string, componentNames []string, updateFn string) {
	var required entity.Mask
	types := make([]entity.ComponentType, 0, len(componentNames))
	for _, cn := range componentNames {
		c, ok := b.entities.Registry.Lookup(hashName(cn))
		if !ok {
			err := cserrors.New(cserrors.CodeMissingComponentForEngine, "script engine %q references unregistered component %q, dropping", name, cn)
			b.reporter.Errorf("mod/bridge.go", 0, "%s", err)
			return
		}
		required = required.Set(c)
		types = append(types, c)
	}

	access := make([]entity.ComponentAccess, len(types))
	for i, c := range types {
		access[i] = entity.ComponentAccess{Type: c, Write: true}
	}

	eng := &entity.Engine{
		Name:     name,
		Hash:     hashName(name),
		Required: required,
		Access:   access,
		Update: func(_ stdcontext.Context, set entity.UpdateSet) error {
			fn := vm.state.GetGlobal(updateFn)
			if fn == lua.LNil {
				return fmt.Errorf("mod: update function %q not found", updateFn)
			}
			for _, arr := range set.Arrays {
				for row, e := range arr.Entities {
					args := make([]lua.LValue, 0, len(arr.Columns)+1)
					args = append(args, lua.LNumber(e.Index))
					for _, col := range arr.Columns {
						lv, err := goToLua(vm.state, col[row])
						if err != nil {
							lv = lua.LNil
						}
						args = append(args, lv)
					}
					if err := vm.state.CallByParam(lua.P{Fn: fn, NRet: len(arr.Columns), Protect: true}, args...); err != nil {
						return err
					}
					top := vm.state.GetTop()
					for i := len(arr.Columns) - 1; i >= 0; i-- {
						ret := vm.state.Get(top - (len(arr.Columns) - 1 - i))
						arr.Columns[i][row] = luaToGoValue(ret)
					}
					vm.state.Pop(len(arr.Columns))
				}
			}
			return nil
		},
	}
	b.entities.RegisterEngine(eng)
}

// goToLua converts a Go value into the Lua value representing it,
// falling back to reflection-based struct conversion.
func goToLua(state *lua.LState, value interface{}) (lua.LValue, error) {
	if value == nil {
		return lua.LNil, nil
	}
	switch v := value.(type) {
	case string:
		return lua.LString(v), nil
	case bool:
		return lua.LBool(v), nil
	case int:
		return lua.LNumber(v), nil
	case int32:
		return lua.LNumber(v), nil
	case int64:
		return lua.LNumber(v), nil
	case uint32:
		return lua.LNumber(v), nil
	case uint64:
		return lua.LNumber(v), nil
	case float32:
		return lua.LNumber(v), nil
	case float64:
		return lua.LNumber(v), nil
	case []byte:
		return lua.LString(v), nil
	default:
		return structToLuaTable(state, value)
	}
}

func structToLuaTable(state *lua.LState, value interface{}) (lua.LValue, error) {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("mod: unsupported value type %T", value)
	}
	table := state.NewTable()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanInterface() {
			continue
		}
		lv, err := goToLua(state, field.Interface())
		if err != nil {
			continue
		}
		table.RawSetString(t.Field(i).Name, lv)
	}
	return table, nil
}

// luaToGoValue converts a returned Lua value back to a boxed Go value
// for storage into a component column.
func luaToGoValue(v lua.LValue) interface{} {
	switch lv := v.(type) {
	case lua.LString:
		return string(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LBool:
		return bool(lv)
	default:
		return nil
	}
}
