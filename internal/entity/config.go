package entity

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables a host application sets once at startup for
// an Entity Context, mirroring truth.Config's shape but scoped to entity
// concerns.
type Config struct {
	RegisterMode    string        `yaml:"register_mode"`
	MaxWorkers      int           `yaml:"max_workers"`
	TickBudget      time.Duration `yaml:"tick_budget"`
	EnableDebugMode bool          `yaml:"enable_debug_mode"`
}

// DefaultConfig returns the configuration a Context is built with when
// the host doesn't supply its own.
func DefaultConfig() Config {
	return Config{
		RegisterMode:    "all",
		MaxWorkers:      64,
		TickBudget:      16 * time.Millisecond,
		EnableDebugMode: false,
	}
}

// LoadConfig reads a YAML-encoded Config from path, starting from
// DefaultConfig so an incomplete file only overrides the fields it sets.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ModeFromString maps a Config.RegisterMode string to a RegisterMode
// value, defaulting to RegisterAll for anything unrecognized.
func ModeFromString(s string) RegisterMode {
	switch s {
	case "editor":
		return RegisterEditor
	case "none":
		return RegisterNone
	default:
		return RegisterAll
	}
}
