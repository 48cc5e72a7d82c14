package truth

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables a host application sets once at startup and
// never changes for the lifetime of a Store.
type Config struct {
	MaxTypes           int           `yaml:"max_types"`
	ChangeRingCapacity int           `yaml:"change_ring_capacity"`
	GCInterval         time.Duration `yaml:"gc_interval"`
	EnableDebugMode    bool          `yaml:"enable_debug_mode"`
	LogLevel           int           `yaml:"log_level"`
}

// DefaultConfig returns the configuration a Store is built with when the
// host doesn't supply its own.
func DefaultConfig() Config {
	return Config{
		MaxTypes:           256,
		ChangeRingCapacity: defaultRingCapacity,
		GCInterval:         30 * time.Second,
		EnableDebugMode:    false,
		LogLevel:           2,
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
