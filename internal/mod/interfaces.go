// Package mod hosts the sandboxed Lua bridge mod scripts run inside: a
// restricted VM wrapper exposing read-only Truth property reads and
// Entity component reads, plus the static/runtime security validator
// that keeps a script from reaching outside that surface.
package mod

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ResourceLimits records an execution-time and memory budget for a
// script's VM. The bridge stores it on the VM's config but does not
// enforce either limit.
type ResourceLimits struct {
	MaxExecutionTime time.Duration
	MaxMemoryUsage   int64
}

// SandboxConfig controls which host facilities a VM's global namespace
// exposes.
type SandboxConfig struct {
	FileSystemRestricted bool
	NetworkRestricted    bool
	OSCommandsBlocked    bool
}

// VMConfig is the configuration a caller passes to CreateVM.
type VMConfig struct {
	Sandbox   SandboxConfig
	Resources ResourceLimits
}

// DefaultVMConfig is the configuration used when a caller passes the zero
// VMConfig to CreateVM: fully sandboxed, 100ms/10MB budget.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		Sandbox: SandboxConfig{
			FileSystemRestricted: true,
			NetworkRestricted:    true,
			OSCommandsBlocked:    true,
		},
		Resources: ResourceLimits{
			MaxExecutionTime: 100 * time.Millisecond,
			MaxMemoryUsage:   10 * 1024 * 1024,
		},
	}
}

// VM wraps one Lua state together with the config it was sandboxed
// under.
type VM struct {
	state  *lua.LState
	config VMConfig
}

// Script is a loaded, not-yet-executed mod script.
type Script struct {
	Path   string
	Source string
	Meta   ScriptMetadata
}

// ScriptMetadata is the declarative header a mod script may export as a
// top-level `meta` table (name/version/author/api_version).
type ScriptMetadata struct {
	Name       string
	Version    string
	Author     string
	APIVersion string
}
