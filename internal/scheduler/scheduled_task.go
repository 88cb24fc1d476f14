package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/pulse/internal/task"
)

// TaskID identifies a registered task. It is only used to remove the task.
type TaskID string

func newTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// ScheduledTask wraps a task.Task with its cadence and execution bookkeeping.
//
// Once handed to the loop a ScheduledTask is owned by the loop goroutine;
// nothing else reads or writes it.
type ScheduledTask struct {
	id    TaskID
	name  string
	task  task.Task
	every time.Duration

	startFrom    time.Time
	hasStartFrom bool

	lastExecution time.Time
	hasRun        bool
}

// NewScheduledTask validates the cadence and wraps t. A nil startFrom makes
// the task eligible immediately.
func NewScheduledTask(t task.Task, name string, every time.Duration, startFrom *time.Time) (*ScheduledTask, error) {
	if t == nil {
		return nil, ErrNilTask
	}
	if every <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidCadence, every)
	}

	st := &ScheduledTask{
		id:    newTaskID(),
		name:  name,
		task:  t,
		every: every,
	}
	if startFrom != nil {
		st.startFrom = *startFrom
		st.hasStartFrom = true
	}

	return st, nil
}

func (st *ScheduledTask) ID() TaskID           { return st.id }
func (st *ScheduledTask) Name() string         { return st.name }
func (st *ScheduledTask) Every() time.Duration { return st.every }

// LastExecution returns the time of the last attempt, false before the first run
func (st *ScheduledTask) LastExecution() (time.Time, bool) {
	return st.lastExecution, st.hasRun
}

// StartFrom returns the configured start time, false when none was given
func (st *ScheduledTask) StartFrom() (time.Time, bool) {
	return st.startFrom, st.hasStartFrom
}

// NextExecution returns the earliest instant the task may run again:
// last execution plus cadence once it has run, otherwise the start time,
// otherwise now.
func (st *ScheduledTask) NextExecution(now time.Time) time.Time {
	switch {
	case st.hasRun:
		return st.lastExecution.Add(st.every)
	case st.hasStartFrom:
		return st.startFrom
	default:
		return now
	}
}

// Due reports whether the task should run on a tick at now. A task that has
// never run is due on the first tick it is seen, whatever its start time.
func (st *ScheduledTask) Due(now time.Time) bool {
	return !st.hasRun || !now.Before(st.NextExecution(now))
}

// MarkExecuted records an execution attempt, successful or not
func (st *ScheduledTask) MarkExecuted(at time.Time) {
	st.lastExecution = at
	st.hasRun = true
}

// Run executes the wrapped task. A panic is recovered and returned as a *PanicError.
func (st *ScheduledTask) Run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	return st.task.Execute(ctx)
}

// TaskInfo is a read-only snapshot of a registered task
type TaskInfo struct {
	ID            TaskID
	Name          string
	Every         time.Duration
	StartFrom     *time.Time
	LastExecution *time.Time
	NextExecution time.Time
}

func (st *ScheduledTask) info(now time.Time) TaskInfo {
	info := TaskInfo{
		ID:            st.id,
		Name:          st.name,
		Every:         st.every,
		NextExecution: st.NextExecution(now),
	}
	if st.hasStartFrom {
		start := st.startFrom
		info.StartFrom = &start
	}
	if st.hasRun {
		last := st.lastExecution
		info.LastExecution = &last
	}
	return info
}
