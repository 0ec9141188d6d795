package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the engine's singleton configuration document (spec §6): small,
// read on startup and on change, distinct from operational state which
// lives in pkg/storage.
type Config struct {
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Grace       GraceConfig       `yaml:"grace"`
	AutoApprove AutoApproveConfig `yaml:"auto_approve"`
}

// SchedulerConfig controls the three recurring jobs of §4.J.
type SchedulerConfig struct {
	// DailyReportTime is "HH:MM" in the engine process's local time zone.
	DailyReportTime string `yaml:"daily_report_time"`
	// HealthCheckIntervalHours is how often the health-check job runs.
	HealthCheckIntervalHours int `yaml:"health_check_interval_hours"`
	// GraceSweepIntervalHours is how often the reservation grace-period
	// sweep job runs.
	GraceSweepIntervalHours int `yaml:"grace_sweep_interval_hours"`
}

// GraceConfig holds the global default grace period (spec §4.B, GLOSSARY
// "Grace period"). A reservation's grace_days_override, when set, takes
// precedence over this default.
type GraceConfig struct {
	DefaultGraceDays int `yaml:"default_grace_days"`
}

// AutoApproveConfig is the global half of the §4.F tri-state decision
// table; the per-database override lives on types.DatabaseDescriptor.
type AutoApproveConfig struct {
	GlobalEnabled bool `yaml:"global_enabled"`
}

// Default returns the configuration used when no file is present yet.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			DailyReportTime:          "01:00",
			HealthCheckIntervalHours: 6,
			GraceSweepIntervalHours:  24,
		},
		Grace: GraceConfig{
			DefaultGraceDays: 3,
		},
		AutoApprove: AutoApproveConfig{
			GlobalEnabled: false,
		},
	}
}

// Load reads Config from path. If the file does not exist, it writes out
// the default configuration and returns it, so a fresh deployment always
// has a config file fsnotify can watch.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Store holds the current Config and notifies subscribers of replacement.
// Reads take the read lock; Reload swaps the pointer under the write lock
// and then calls every registered callback with the new value, matching
// §9's "Jobs are value types; replacement is by rebinding, not by mutating
// a running job."
type Store struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	onReload []func(*Config)
}

// NewStore loads path and returns a Store wrapping the result.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, path: path}, nil
}

// Current returns the currently active configuration.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// OnReload registers a callback invoked after every successful Reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload re-reads the config file from disk and, if it parses
// successfully, replaces the active configuration and notifies callbacks.
// A malformed file is logged by the caller and the prior configuration
// stays active.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cfg = cfg
	callbacks := append([]func(*Config){}, s.onReload...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}
