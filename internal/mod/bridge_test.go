package mod

import (
	"fmt"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corestate/internal/entity"
	"corestate/internal/truth"
)

type recordingReporter struct {
	errors []string
}

func (r *recordingReporter) Errorf(file string, line int, format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) Fatal(file string, line int, format string, args ...interface{}) {
	panic("fatal: " + format)
}

func newTestBridge(t *testing.T, reporter *recordingReporter) (*Bridge, *entity.Context) {
	t.Helper()
	reg := truth.NewRegistry(nil)
	store := truth.NewStore(reg, nil)
	ectx := entity.NewContext(entity.RegisterNone, 0, nil)
	return NewBridge(store, ectx, reporter), ectx
}

func TestApplySandboxNilsDangerousGlobals(t *testing.T) {
	state := lua.NewState()
	defer state.Close()

	applySandbox(state, SandboxConfig{FileSystemRestricted: true, OSCommandsBlocked: true, NetworkRestricted: true})

	assert.Equal(t, lua.LNil, state.GetGlobal("io"))
	assert.Equal(t, lua.LNil, state.GetGlobal("os"))
	assert.Equal(t, lua.LNil, state.GetGlobal("socket"))
	assert.Equal(t, lua.LNil, state.GetGlobal("require"))
	assert.Equal(t, lua.LNil, state.GetGlobal("debug"))
}

func TestCreateVMRegistersWorldTable(t *testing.T) {
	reporter := &recordingReporter{}
	b, _ := newTestBridge(t, reporter)

	vm, err := b.CreateVM(DefaultVMConfig())
	require.NoError(t, err)
	defer b.DestroyVM(vm)

	world, ok := vm.state.GetGlobal("world").(*lua.LTable)
	require.True(t, ok)
	assert.NotEqual(t, lua.LNil, world.RawGetString("get_property"))
	assert.NotEqual(t, lua.LNil, world.RawGetString("component_value"))
}

func TestExecuteScriptReadsMetaTable(t *testing.T) {
	reporter := &recordingReporter{}
	b, _ := newTestBridge(t, reporter)
	vm, err := b.CreateVM(DefaultVMConfig())
	require.NoError(t, err)
	defer b.DestroyVM(vm)

	script := &Script{
		Path:   "inline",
		Source: `meta = { name = "demo", version = "1.0", author = "tester", api_version = "1" }`,
	}
	require.NoError(t, b.ExecuteScript(vm, script))
	assert.Equal(t, "demo", script.Meta.Name)
	assert.Equal(t, "1.0", script.Meta.Version)
}

func TestRegisterEngineFromScriptDropsUnregisteredComponent(t *testing.T) {
	reporter := &recordingReporter{}
	b, ectx := newTestBridge(t, reporter)
	vm, err := b.CreateVM(DefaultVMConfig())
	require.NoError(t, err)
	defer b.DestroyVM(vm)

	require.NoError(t, vm.state.DoString(`function update(idx) return idx end`))

	before := ectx.Scheduler
	b.RegisterEngineFromScript(vm, "ghost_engine", []string{"never_registered"}, "update")

	assert.Same(t, before, ectx.Scheduler, "context state should be unchanged")
	require.Len(t, reporter.errors, 1)
	assert.Contains(t, reporter.errors[0], "unregistered component")
}

func TestGoToLuaAndLuaToGoValueRoundTrip(t *testing.T) {
	state := lua.NewState()
	defer state.Close()

	lv, err := goToLua(state, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", luaToGoValue(lv))

	lv, err = goToLua(state, uint32(42))
	require.NoError(t, err)
	assert.Equal(t, float64(42), luaToGoValue(lv))

	lv, err = goToLua(state, true)
	require.NoError(t, err)
	assert.Equal(t, true, luaToGoValue(lv))
}

func TestGoToLuaConvertsStructViaReflection(t *testing.T) {
	state := lua.NewState()
	defer state.Close()

	type point struct{ X, Y float64 }
	lv, err := goToLua(state, point{X: 1, Y: 2})
	require.NoError(t, err)

	table, ok := lv.(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LNumber(1), table.RawGetString("X"))
	assert.Equal(t, lua.LNumber(2), table.RawGetString("Y"))
}
