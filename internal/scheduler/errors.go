package scheduler

import (
	"errors"
	"fmt"
)

// Errors returned by the scheduler handle
var (
	ErrNotStarted     = errors.New("scheduler: not started")
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrChannelClosed  = errors.New("scheduler: command channel closed")
	ErrChannelFull    = errors.New("scheduler: command channel full")
	ErrInvalidCadence = errors.New("scheduler: cadence must be positive")
	ErrNilTask        = errors.New("scheduler: task is nil")
)

// PanicError is the failure reported for a task that panicked
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
