package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/pulse/internal/task"
	"github.com/livinlefevreloca/pulse/internal/testutil"
	"github.com/livinlefevreloca/pulse/internal/timespec"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestScheduler(t *testing.T, heartbeat time.Duration, observers ...RunObserver) (*Scheduler, *testutil.TestLogger) {
	t.Helper()

	logger := testutil.NewTestLogger()
	config := DefaultSchedulerConfig()
	config.HeartbeatInterval = heartbeat
	config.InboxSendTimeout = 50 * time.Millisecond

	s, err := NewScheduler(config, logger.Logger(), observers...)
	require.NoError(t, err)
	return s, logger
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		if s.Running() {
			_ = s.Stop(context.Background())
		}
	})
}

func counting(n *atomic.Int64) task.Task {
	return task.FromFunc(func() { n.Add(1) })
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestScheduler_StartTwice(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)
	startScheduler(t, s)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

// TestScheduler_NotStarted verifies that every operation fails cleanly before Start.
func TestScheduler_NotStarted(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)

	_, err := s.AddTask(task.FromFunc(func() {}), "early", time.Second, nil)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, s.RemoveTask("any"), ErrNotStarted)
	_, err = s.Tasks(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotStarted)
	assert.False(t, s.Running())
}

// TestScheduler_StopIsPrompt verifies that Stop does not wait out a long heartbeat.
func TestScheduler_StopIsPrompt(t *testing.T) {
	s, logger := newTestScheduler(t, time.Hour)
	require.NoError(t, s.Start(context.Background()))

	testutil.WaitFor(t, func() bool {
		return len(logger.GetEntriesByMessage("heartbeat loop started")) == 1
	}, time.Second, "loop never started")

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, s.Running())
}

// TestScheduler_NoRunsAfterStop verifies that no task starts once Stop has returned.
func TestScheduler_NoRunsAfterStop(t *testing.T) {
	s, _ := newTestScheduler(t, 5*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))

	var n atomic.Int64
	_, err := s.AddTask(counting(&n), "counter", 5*time.Millisecond, nil)
	require.NoError(t, err)

	testutil.WaitFor(t, func() bool { return n.Load() >= 2 }, time.Second, "task never ran")
	require.NoError(t, s.Stop(context.Background()))

	stopped := n.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
}

// TestScheduler_RestartHasEmptyRegistry verifies that Stop then Start discards registered tasks.
func TestScheduler_RestartHasEmptyRegistry(t *testing.T) {
	s, _ := newTestScheduler(t, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.AddTask(task.FromFunc(func() {}), "old", time.Second, nil)
	require.NoError(t, err)
	tasks, err := s.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, s.Stop(context.Background()))
	startScheduler(t, s)

	tasks, err = s.Tasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// TestScheduler_ChannelClosedAfterParentCancel verifies that commands fail once the loop has exited.
func TestScheduler_ChannelClosedAfterParentCancel(t *testing.T) {
	s, _ := newTestScheduler(t, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	testutil.WaitFor(t, func() bool { return !s.Running() }, time.Second, "loop did not exit")

	_, err := s.AddTask(task.FromFunc(func() {}), "late", time.Second, nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, s.RemoveTask("late"), ErrChannelClosed)

	// the handle may be started again once the loop is gone
	startScheduler(t, s)
}

// TestScheduler_StopWaitsForRunningTask verifies that Stop honours its context while a task blocks.
func TestScheduler_StopWaitsForRunningTask(t *testing.T) {
	s, _ := newTestScheduler(t, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := s.AddTask(task.FromFunc(func() {
		close(started)
		<-release
	}), "blocker", time.Hour, nil)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Stop(context.Background()))
}

// TestScheduler_StartAfterTimedOutStop verifies that a loop outliving Stop blocks a second
// loop from starting until it has exited.
func TestScheduler_StartAfterTimedOutStop(t *testing.T) {
	var runs atomic.Int64
	s, _ := newTestScheduler(t, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := s.AddTask(task.FromFunc(func() {
		runs.Add(1)
		close(started)
		<-release
	}), "blocker", time.Hour, nil)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	_, err = s.AddTask(task.FromFunc(func() {}), "rejected", time.Second, nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	close(release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotStarted)

	startScheduler(t, s)
	assert.Equal(t, int64(1), runs.Load())
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestScheduler_AddTask_InvalidCadence(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)
	startScheduler(t, s)

	_, err := s.AddTask(task.FromFunc(func() {}), "zero", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidCadence)
}

func TestScheduler_AddTask_BadStartTime(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)
	startScheduler(t, s)

	start := timespec.At("not a date", "%Y-%m-%d")
	_, err := s.AddTask(task.FromFunc(func() {}), "bad-start", time.Second, &start)

	var parseErr *timespec.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

// TestScheduler_ChannelFull verifies that commands fail after the send timeout when the loop is busy.
func TestScheduler_ChannelFull(t *testing.T) {
	logger := testutil.NewTestLogger()
	config := DefaultSchedulerConfig()
	config.HeartbeatInterval = 10 * time.Millisecond
	config.InboxBufferSize = 1
	config.InboxSendTimeout = 10 * time.Millisecond
	s, err := NewScheduler(config, logger.Logger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	_, err = s.AddTask(task.FromFunc(func() {
		close(started)
		<-release
	}), "blocker", time.Hour, nil)
	require.NoError(t, err)
	<-started

	_, err = s.AddTask(task.FromFunc(func() {}), "queued", time.Second, nil)
	require.NoError(t, err)
	_, err = s.AddTask(task.FromFunc(func() {}), "overflow", time.Second, nil)
	assert.ErrorIs(t, err, ErrChannelFull)

	close(release)
	require.NoError(t, s.Stop(context.Background()))
}

// TestScheduler_RemoveTask verifies that a removed task stops running once the removal is applied.
func TestScheduler_RemoveTask(t *testing.T) {
	s, _ := newTestScheduler(t, 5*time.Millisecond)
	startScheduler(t, s)

	var n atomic.Int64
	id, err := s.AddTask(counting(&n), "removable", 5*time.Millisecond, nil)
	require.NoError(t, err)
	testutil.WaitFor(t, func() bool { return n.Load() >= 1 }, time.Second, "task never ran")

	require.NoError(t, s.RemoveTask(id))

	// Tasks is answered by the loop after the removal has been applied
	tasks, err := s.Tasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)

	removed := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, removed, n.Load())
}

func TestScheduler_Tasks(t *testing.T) {
	s, _ := newTestScheduler(t, 10*time.Millisecond)
	startScheduler(t, s)

	start := timespec.At("2999-01-01T00:00:00Z", "")
	id, err := s.AddTask(task.FromFunc(func() {}), "future", time.Minute, &start)
	require.NoError(t, err)

	tasks, err := s.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, "future", tasks[0].Name)
	assert.Equal(t, time.Minute, tasks[0].Every)
	require.NotNil(t, tasks[0].StartFrom)
	assert.Equal(t, 2999, tasks[0].StartFrom.Year())
}

// =============================================================================
// Wall Clock Scenarios
// =============================================================================

// TestScheduler_Cadence_TwoToOne runs a task whose cadence is twice the heartbeat and expects
// roughly one run per two heartbeats.
func TestScheduler_Cadence_TwoToOne(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall clock scenario in short mode")
	}

	obs := &syncObserver{}
	s, _ := newTestScheduler(t, 20*time.Millisecond, obs)
	startScheduler(t, s)

	_, err := s.AddTask(task.FromFunc(func() {}), "every-two", 40*time.Millisecond, nil)
	require.NoError(t, err)

	time.Sleep(210 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	runs := obs.dueTimes()
	assert.GreaterOrEqual(t, len(runs), 3)
	assert.LessOrEqual(t, len(runs), 6)
	for i := 1; i < len(runs); i++ {
		assert.GreaterOrEqual(t, runs[i].Sub(runs[i-1]), 40*time.Millisecond-time.Millisecond)
	}
}

// TestScheduler_Cadence_TwoTasks runs a fast and a slow task side by side.
func TestScheduler_Cadence_TwoTasks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall clock scenario in short mode")
	}

	s, _ := newTestScheduler(t, 20*time.Millisecond)
	startScheduler(t, s)

	var fast, slow atomic.Int64
	_, err := s.AddTask(counting(&fast), "fast", 20*time.Millisecond, nil)
	require.NoError(t, err)
	_, err = s.AddTask(counting(&slow), "slow", 100*time.Millisecond, nil)
	require.NoError(t, err)

	time.Sleep(210 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	assert.GreaterOrEqual(t, fast.Load(), int64(5))
	assert.LessOrEqual(t, fast.Load(), int64(12))
	assert.GreaterOrEqual(t, slow.Load(), int64(1))
	assert.LessOrEqual(t, slow.Load(), int64(3))
	assert.Greater(t, fast.Load(), slow.Load())
}

// TestScheduler_FailingTaskKeepsRunning verifies that failures are logged and the task runs again later.
func TestScheduler_FailingTaskKeepsRunning(t *testing.T) {
	s, logger := newTestScheduler(t, 5*time.Millisecond)
	startScheduler(t, s)

	var n atomic.Int64
	_, err := s.AddTask(task.Func(func(context.Context) error {
		n.Add(1)
		return errors.New("always fails")
	}), "failing", 5*time.Millisecond, nil)
	require.NoError(t, err)

	testutil.WaitFor(t, func() bool { return n.Load() >= 3 }, time.Second, "failing task was not retried on cadence")
	assert.True(t, logger.HasError())
}

// syncObserver records runs; read it only after Stop
type syncObserver struct {
	records []RunRecord
}

func (o *syncObserver) ObserveRun(record RunRecord) { o.records = append(o.records, record) }

func (o *syncObserver) dueTimes() []time.Time {
	out := make([]time.Time, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, r.DueAt)
	}
	return out
}
