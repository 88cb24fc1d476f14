package scheduler

import "time"

// RunRecord describes a single execution attempt
type RunRecord struct {
	RunID     string
	TaskID    TaskID
	TaskName  string
	DueAt     time.Time
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Succeeded reports whether the attempt returned without error
func (r RunRecord) Succeeded() bool {
	return r.Err == nil
}

// RunObserver is notified after every execution attempt.
//
// ObserveRun is called from the loop goroutine, so implementations must not
// block and must not call back into the Scheduler.
type RunObserver interface {
	ObserveRun(record RunRecord)
}

// HeartbeatObserver is an optional extension of RunObserver notified after
// every tick, once all due tasks have run.
type HeartbeatObserver interface {
	OnHeartbeat(now time.Time)
}
