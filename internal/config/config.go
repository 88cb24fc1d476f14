package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/pulse/internal/db"
	"github.com/livinlefevreloca/pulse/internal/scheduler"
	"github.com/livinlefevreloca/pulse/internal/syncer"
	"github.com/livinlefevreloca/pulse/internal/task"
	"github.com/livinlefevreloca/pulse/internal/timespec"
)

// Config represents the application configuration
type Config struct {
	Database  db.Config                 `toml:"database"`
	Scheduler scheduler.SchedulerConfig `toml:"scheduler"`
	Syncer    syncer.Config             `toml:"syncer"`
	History   HistoryConfig             `toml:"history"`
	Metrics   MetricsConfig             `toml:"metrics"`
	Logging   LoggingConfig             `toml:"logging"`
	Tasks     []TaskConfig              `toml:"tasks"`
}

// HistoryConfig controls the execution history kept in the database
type HistoryConfig struct {
	Enabled bool `toml:"enabled"`

	// Runs older than Retention are pruned; zero keeps everything
	Retention time.Duration `toml:"retention"`

	// Cadence of the built-in prune task
	PruneEvery time.Duration `toml:"prune_every"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TaskConfig declares a command to run on a cadence
type TaskConfig struct {
	Name    string        `toml:"name"`
	Command string        `toml:"command"`
	Args    []string      `toml:"args"`
	Dir     string        `toml:"dir"`
	Env     []string      `toml:"env"`
	Every   time.Duration `toml:"every"`
	Timeout time.Duration `toml:"timeout"`

	// StartAt is "now", empty, or a timestamp read with StartLayout
	StartAt     string `toml:"start_at"`
	StartLayout string `toml:"start_layout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database:  db.DefaultConfig(),
		Scheduler: scheduler.DefaultSchedulerConfig(),
		Syncer:    syncer.DefaultConfig(),
		History: HistoryConfig{
			Enabled:    true,
			Retention:  7 * 24 * time.Hour,
			PruneEvery: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return defaults
	if configPath == "" {
		return DefaultConfig(), nil
	}

	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.History.Enabled {
		if c.Database.Driver != "sqlite3" {
			return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN must be specified")
		}
		if err := c.Syncer.Validate(); err != nil {
			return fmt.Errorf("syncer: %w", err)
		}
		if c.History.Retention < 0 {
			return fmt.Errorf("history retention must not be negative")
		}
		if c.History.Retention > 0 && c.History.PruneEvery <= 0 {
			return fmt.Errorf("history prune_every must be positive when retention is set")
		}
	}

	// Scheduler validation
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text, json, or console)", c.Logging.Format)
	}

	// Task validation
	seen := make(map[string]bool, len(c.Tasks))
	for i, tc := range c.Tasks {
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if seen[tc.Name] {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, tc.Name)
		}
		seen[tc.Name] = true
	}

	return nil
}

// Validate checks a single task declaration
func (tc TaskConfig) Validate() error {
	if tc.Name == "" {
		return fmt.Errorf("task name must be specified")
	}
	if tc.Command == "" {
		return fmt.Errorf("task %s: command must be specified", tc.Name)
	}
	if tc.Every <= 0 {
		return fmt.Errorf("task %s: every must be positive, got %v", tc.Name, tc.Every)
	}
	if tc.Timeout < 0 {
		return fmt.Errorf("task %s: timeout must not be negative", tc.Name)
	}
	if start := tc.StartFrom(); start != nil {
		if _, err := start.Resolve(time.Now()); err != nil {
			return fmt.Errorf("task %s: %w", tc.Name, err)
		}
	}
	return nil
}

// StartFrom returns the start time declaration, nil when the task may run immediately
func (tc TaskConfig) StartFrom() *timespec.StartFrom {
	switch tc.StartAt {
	case "":
		return nil
	case "now":
		start := timespec.Now()
		return &start
	default:
		start := timespec.At(tc.StartAt, tc.StartLayout)
		return &start
	}
}

// Task builds the command the declaration describes
func (tc TaskConfig) Task() *task.Command {
	return &task.Command{
		Path:    tc.Command,
		Args:    tc.Args,
		Dir:     tc.Dir,
		Env:     tc.Env,
		Timeout: tc.Timeout,
	}
}

// Equal reports whether two declarations describe the same schedule and command
func (tc TaskConfig) Equal(other TaskConfig) bool {
	return tc.Name == other.Name &&
		tc.Command == other.Command &&
		slices.Equal(tc.Args, other.Args) &&
		tc.Dir == other.Dir &&
		slices.Equal(tc.Env, other.Env) &&
		tc.Every == other.Every &&
		tc.Timeout == other.Timeout &&
		tc.StartAt == other.StartAt &&
		tc.StartLayout == other.StartLayout
}
