package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/pulse/internal/inbox"
)

// Logging categories attached to every record the loop emits
const (
	categoryHeartbeat     = "heartbeat"
	categoryTaskExecution = "task execution"
)

// loop is the heartbeat loop. Everything in it is owned by the goroutine
// running run; other goroutines reach it only through inbox.
type loop struct {
	interval time.Duration
	inbox    *inbox.Inbox[InboxMessage]
	now      func() time.Time

	tasks         []*ScheduledTask
	lastHeartbeat time.Time
	ticked        bool

	observers []RunObserver

	logger     *slog.Logger
	taskLogger *slog.Logger
}

func newLoop(interval time.Duration, ib *inbox.Inbox[InboxMessage], now func() time.Time, logger *slog.Logger, observers []RunObserver) *loop {
	return &loop{
		interval:   interval,
		inbox:      ib,
		now:        now,
		tasks:      make([]*ScheduledTask, 0),
		observers:  observers,
		logger:     logger.With("category", categoryHeartbeat),
		taskLogger: logger.With("category", categoryTaskExecution),
	}
}

// run drives iterations until ctx is cancelled, then closes the inbox
func (l *loop) run(ctx context.Context) {
	defer l.inbox.Close()

	l.logger.Info("heartbeat loop started", "interval", l.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("heartbeat loop stopped", "tasks", len(l.tasks))
			return
		case <-timer.C:
		}

		sleep := l.iteration(ctx)
		timer.Reset(sleep)
	}
}

// iteration performs a single pass: drain commands, tick if the heartbeat
// interval has elapsed, and report how long to sleep before the next pass.
func (l *loop) iteration(ctx context.Context) time.Duration {
	// Step 1: Apply every queued command
	l.processInbox()

	// Step 2: Tick when due
	now := l.now()
	if !l.ticked || now.Sub(l.lastHeartbeat) >= l.interval {
		l.tick(ctx, now)
	}

	// Step 3: Update inbox depth stats
	l.inbox.UpdateDepthStats()

	return sleepDuration(l.interval, l.now().Sub(l.lastHeartbeat))
}

// sleepDuration returns the time left in the current heartbeat interval, never negative
func sleepDuration(interval, elapsed time.Duration) time.Duration {
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// processInbox drains all available messages from the inbox
func (l *loop) processInbox() int {
	processed := 0
	for {
		msg, ok := l.inbox.TryReceive()
		if !ok {
			return processed
		}
		l.handleMessage(msg)
		processed++
	}
}

// handleMessage dispatches messages to appropriate handlers
func (l *loop) handleMessage(msg InboxMessage) {
	l.logger.Debug("handling message", "type", msg.Type.String())

	switch msg.Type {
	case MsgAddTask:
		l.handleAddTask(msg)
	case MsgRemoveTask:
		l.handleRemoveTask(msg)
	case MsgListTasks:
		l.handleListTasks(msg)
	default:
		l.logger.Warn("unknown message type", "type", msg.Type)
	}
}

func (l *loop) handleAddTask(msg InboxMessage) {
	data := msg.Data.(AddTaskMsg)

	l.tasks = append(l.tasks, data.Task)
	l.logger.Info("task added",
		"task", data.Task.Name(),
		"task_id", data.Task.ID(),
		"every", data.Task.Every())
}

func (l *loop) handleRemoveTask(msg InboxMessage) {
	data := msg.Data.(RemoveTaskMsg)

	for i, st := range l.tasks {
		if st.ID() != data.ID {
			continue
		}
		l.tasks = append(l.tasks[:i], l.tasks[i+1:]...)
		l.logger.Info("task removed", "task", st.Name(), "task_id", st.ID())
		return
	}

	l.logger.Debug("remove for unknown task ignored", "task_id", data.ID)
}

func (l *loop) handleListTasks(msg InboxMessage) {
	now := l.now()
	infos := make([]TaskInfo, 0, len(l.tasks))
	for _, st := range l.tasks {
		infos = append(infos, st.info(now))
	}

	if msg.ResponseChan != nil {
		msg.ResponseChan <- ListTasksResponse{Tasks: infos}
	}
}

// tick runs every due task in registration order. Each attempt is recorded
// as an execution at now whatever its outcome.
func (l *loop) tick(ctx context.Context, now time.Time) {
	executed, failed := 0, 0

	for _, st := range l.tasks {
		if ctx.Err() != nil {
			return
		}
		if !st.Due(now) {
			continue
		}

		dueAt := st.NextExecution(now)
		started := l.now()
		err := st.Run(ctx)
		st.MarkExecuted(now)
		executed++

		if err != nil {
			failed++
			l.logFailure(st, err)
		}

		l.notify(RunRecord{
			RunID:     uuid.NewString(),
			TaskID:    st.ID(),
			TaskName:  st.Name(),
			DueAt:     dueAt,
			StartedAt: started,
			Duration:  l.now().Sub(started),
			Err:       err,
		})
	}

	l.lastHeartbeat = now
	l.ticked = true

	l.logger.Debug("heartbeat",
		"tasks", len(l.tasks),
		"executed", executed,
		"failed", failed)

	for _, obs := range l.observers {
		if hb, ok := obs.(HeartbeatObserver); ok {
			hb.OnHeartbeat(now)
		}
	}
}

func (l *loop) logFailure(st *ScheduledTask, err error) {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		l.taskLogger.Error("task panicked",
			"task", st.Name(),
			"task_id", st.ID(),
			"panic", panicErr.Value,
			"stack", string(panicErr.Stack))
		return
	}

	l.taskLogger.Error("task execution failed",
		"task", st.Name(),
		"task_id", st.ID(),
		"error", err)
}

func (l *loop) notify(record RunRecord) {
	for _, obs := range l.observers {
		obs.ObserveRun(record)
	}
}
