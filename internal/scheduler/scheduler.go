package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/pulse/internal/inbox"
	"github.com/livinlefevreloca/pulse/internal/task"
	"github.com/livinlefevreloca/pulse/internal/timespec"
)

// Scheduler is the caller-facing handle to the heartbeat loop.
//
// The handle is safe for concurrent use. It never touches the task registry
// directly; every change is a command delivered through the inbox and applied
// by the loop before its next tick.
type Scheduler struct {
	// Configuration
	config    SchedulerConfig
	logger    *slog.Logger
	observers []RunObserver
	now       func() time.Time

	// Running state, guarded by mu
	mu     sync.Mutex
	inbox  *inbox.Inbox[InboxMessage]
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler with validated configuration. The loop does
// not run until Start is called.
func NewScheduler(config SchedulerConfig, logger *slog.Logger, observers ...RunObserver) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Scheduler{
		config:    config,
		logger:    logger,
		observers: observers,
		now:       time.Now,
	}, nil
}

// Start spawns the heartbeat loop with an empty registry. The loop runs until
// Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			// previous loop has exited; start over
		default:
			if s.cancel == nil {
				return fmt.Errorf("%w: previous loop has not exited", ErrAlreadyStarted)
			}
			return ErrAlreadyStarted
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ib := inbox.New[InboxMessage](s.config.InboxBufferSize, s.config.InboxSendTimeout, s.logger)
	l := newLoop(s.config.HeartbeatInterval, ib, s.now, s.logger, s.observers)
	done := make(chan struct{})

	s.inbox = ib
	s.cancel = cancel
	s.done = done

	s.logger.Info("starting scheduler", "heartbeat_interval", s.config.HeartbeatInterval)

	go func() {
		defer close(done)
		l.run(loopCtx)
	}()

	return nil
}

// Stop cancels the loop and waits for it to exit or for ctx to expire.
// A task that is executing is allowed to finish; no further task starts.
// When ctx expires first the loop is still considered running: Start fails
// until it exits, and Stop may be called again to keep waiting.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := s.cancel, s.done
	s.inbox, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		s.logger.Info("stopping scheduler")
		cancel()
	}

	select {
	case <-done:
		s.mu.Lock()
		if s.done == done {
			s.done = nil
		}
		s.mu.Unlock()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for heartbeat loop to exit: %w", ctx.Err())
	}
}

// Running reports whether the loop is currently running
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// AddTask registers t to run every `every`, starting at start. A nil start
// makes the task eligible on the next tick. The returned id is the only way to
// remove the task later.
func (s *Scheduler) AddTask(t task.Task, name string, every time.Duration, start *timespec.StartFrom) (TaskID, error) {
	var startFrom *time.Time
	if start != nil {
		at, err := start.Resolve(s.now())
		if err != nil {
			return "", fmt.Errorf("task %s: %w", name, err)
		}
		startFrom = &at
	}

	st, err := NewScheduledTask(t, name, every, startFrom)
	if err != nil {
		return "", fmt.Errorf("task %s: %w", name, err)
	}

	if err := s.send(InboxMessage{
		Type: MsgAddTask,
		Data: AddTaskMsg{Task: st},
	}); err != nil {
		return "", err
	}

	return st.ID(), nil
}

// RemoveTask deregisters the task with the given id. Removing an unknown id
// is not an error.
func (s *Scheduler) RemoveTask(id TaskID) error {
	return s.send(InboxMessage{
		Type: MsgRemoveTask,
		Data: RemoveTaskMsg{ID: id},
	})
}

// Tasks returns a snapshot of the registry as seen by the loop
func (s *Scheduler) Tasks(ctx context.Context) ([]TaskInfo, error) {
	ib, done, err := s.current()
	if err != nil {
		return nil, err
	}

	reply := make(chan interface{}, 1)
	if err := sendErr(ib.Send(InboxMessage{
		Type:         MsgListTasks,
		Data:         ListTasksMsg{},
		ResponseChan: reply,
	})); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp.(ListTasksResponse).Tasks, nil
	case <-done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InboxStats returns the command inbox counters of the running loop
func (s *Scheduler) InboxStats() (inbox.Stats, error) {
	ib, _, err := s.current()
	if err != nil {
		return inbox.Stats{}, err
	}
	return ib.Stats(), nil
}

func (s *Scheduler) current() (*inbox.Inbox[InboxMessage], <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inbox == nil {
		return nil, nil, ErrNotStarted
	}
	return s.inbox, s.done, nil
}

func (s *Scheduler) send(msg InboxMessage) error {
	ib, _, err := s.current()
	if err != nil {
		return err
	}
	return sendErr(ib.Send(msg))
}

// sendErr maps inbox errors onto the scheduler's channel errors
func sendErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, inbox.ErrClosed):
		return ErrChannelClosed
	case errors.Is(err, inbox.ErrTimeout):
		return ErrChannelFull
	default:
		return err
	}
}
