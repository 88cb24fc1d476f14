package scheduler

import (
	"fmt"
	"time"
)

// SchedulerConfig defines configuration for the heartbeat loop and its command inbox
type SchedulerConfig struct {
	// Polling granularity of the loop, independent of any task cadence
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`

	// Number of add/remove commands that can queue between ticks
	InboxBufferSize int `toml:"inbox_buffer_size"`

	// How long AddTask/RemoveTask block on a full inbox before failing
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`
}

// DefaultSchedulerConfig returns scheduler configuration defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		HeartbeatInterval: 1 * time.Second,
		InboxBufferSize:   1 << 16,
		InboxSendTimeout:  5 * time.Second,
	}
}

// validateConfig validates scheduler configuration and returns error if invalid
func validateConfig(config SchedulerConfig) error {
	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", config.HeartbeatInterval)
	}

	if config.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", config.InboxBufferSize)
	}

	if config.InboxSendTimeout <= 0 {
		return fmt.Errorf("InboxSendTimeout must be positive, got %v", config.InboxSendTimeout)
	}

	return nil
}

// Validate reports whether the configuration can start a scheduler
func (c SchedulerConfig) Validate() error {
	return validateConfig(c)
}
