package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/pulse/internal/config"
	"github.com/livinlefevreloca/pulse/internal/scheduler"
	"github.com/livinlefevreloca/pulse/internal/task"
	"github.com/livinlefevreloca/pulse/internal/timespec"
)

// taskScheduler is the part of *scheduler.Scheduler the reconciler drives
type taskScheduler interface {
	AddTask(t task.Task, name string, every time.Duration, start *timespec.StartFrom) (scheduler.TaskID, error)
	RemoveTask(id scheduler.TaskID) error
}

type registration struct {
	id  scheduler.TaskID
	cfg config.TaskConfig
}

// reconciler keeps the scheduler's registry in line with the [[tasks]]
// declared in the config file. Tasks are matched by name; a changed
// declaration is removed and added again, which resets its last execution.
type reconciler struct {
	sched  taskScheduler
	logger *slog.Logger

	mu         sync.Mutex
	registered map[string]registration
}

func newReconciler(sched taskScheduler, logger *slog.Logger) *reconciler {
	return &reconciler{
		sched:      sched,
		logger:     logger.With("component", "reconciler"),
		registered: make(map[string]registration),
	}
}

// Apply registers new tasks, removes dropped ones and replaces changed ones.
// Every declaration is attempted; the errors are joined.
func (r *reconciler) Apply(tasks []config.TaskConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]config.TaskConfig, len(tasks))
	for _, tc := range tasks {
		wanted[tc.Name] = tc
	}

	var errs []error

	// Step 1: Remove dropped and changed tasks
	for name, reg := range r.registered {
		if tc, ok := wanted[name]; ok && tc.Equal(reg.cfg) {
			continue
		}
		if err := r.sched.RemoveTask(reg.id); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
			continue
		}
		delete(r.registered, name)
		r.logger.Info("task deregistered", "task", name, "task_id", reg.id)
	}

	// Step 2: Add new and changed tasks, in declaration order
	for _, tc := range tasks {
		if _, ok := r.registered[tc.Name]; ok {
			continue
		}
		id, err := r.sched.AddTask(tc.Task(), tc.Name, tc.Every, tc.StartFrom())
		if err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", tc.Name, err))
			continue
		}
		r.registered[tc.Name] = registration{id: id, cfg: tc}
		r.logger.Info("task registered",
			"task", tc.Name,
			"task_id", id,
			"every", tc.Every,
			"command", tc.Task().String())
	}

	return errors.Join(errs...)
}

// Len returns the number of tasks currently registered through the reconciler
func (r *reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}
