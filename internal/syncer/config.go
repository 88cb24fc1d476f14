package syncer

import (
	"fmt"
	"time"
)

// Config defines configuration for the syncer's database write buffering
type Config struct {
	// Maximum buffered run records before the oldest are dropped
	MaxBufferedRuns int `toml:"max_buffered_runs"`

	// Channel buffer size
	RunChannelSize int `toml:"run_channel_size"`

	// Run flushing - dual mechanism (size OR time triggers flush)
	RunFlushThreshold int           `toml:"run_flush_threshold"`
	RunFlushInterval  time.Duration `toml:"run_flush_interval"`
}

// DefaultConfig returns OLTP-friendly syncer configuration defaults
func DefaultConfig() Config {
	return Config{
		MaxBufferedRuns:   10000,
		RunChannelSize:    200, // OLTP-friendly: smaller batches, more frequent flushes
		RunFlushThreshold: 100, // half of channel size
		RunFlushInterval:  1 * time.Second,
	}
}

// Validate reports whether the configuration can build a syncer
func (c Config) Validate() error {
	return validateConfig(c)
}

// validateConfig validates syncer configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.MaxBufferedRuns <= 0 {
		return fmt.Errorf("MaxBufferedRuns must be positive, got %d", config.MaxBufferedRuns)
	}

	if config.RunChannelSize <= 0 {
		return fmt.Errorf("RunChannelSize must be positive, got %d", config.RunChannelSize)
	}

	if config.RunFlushThreshold <= 0 {
		return fmt.Errorf("RunFlushThreshold must be positive, got %d", config.RunFlushThreshold)
	}

	if config.RunFlushInterval <= 0 {
		return fmt.Errorf("RunFlushInterval must be positive, got %v", config.RunFlushInterval)
	}

	return nil
}
