package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/pulse/internal/task"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func noop() task.Task {
	return task.FromFunc(func() {})
}

func newTestTask(t *testing.T, every time.Duration, start *time.Time) *ScheduledTask {
	t.Helper()
	st, err := NewScheduledTask(noop(), "test", every, start)
	require.NoError(t, err)
	return st
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewScheduledTask_RejectsNonPositiveCadence(t *testing.T) {
	for _, every := range []time.Duration{0, -time.Second} {
		st, err := NewScheduledTask(noop(), "bad", every, nil)
		assert.ErrorIs(t, err, ErrInvalidCadence, "every=%v", every)
		assert.Nil(t, st)
	}
}

func TestNewScheduledTask_RejectsNilTask(t *testing.T) {
	_, err := NewScheduledTask(nil, "nil", time.Second, nil)
	assert.ErrorIs(t, err, ErrNilTask)
}

func TestNewScheduledTask_AssignsUniqueIDs(t *testing.T) {
	a := newTestTask(t, time.Second, nil)
	b := newTestTask(t, time.Second, nil)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

// =============================================================================
// NextExecution Tests
// =============================================================================

// TestNextExecution_NeverRunNoStart verifies that a fresh task is due at the time asked about.
func TestNextExecution_NeverRunNoStart(t *testing.T) {
	st := newTestTask(t, 5*time.Second, nil)

	assert.Equal(t, t0, st.NextExecution(t0))
	assert.True(t, st.Due(t0))

	_, ran := st.LastExecution()
	assert.False(t, ran)
}

// TestNextExecution_NeverRunWithStart verifies that the start time is reported until the
// first run and that a never-run task is due regardless of it.
func TestNextExecution_NeverRunWithStart(t *testing.T) {
	start := t0.Add(time.Minute)
	st := newTestTask(t, 5*time.Second, &start)

	assert.Equal(t, start, st.NextExecution(t0))
	assert.True(t, st.Due(t0))

	st.MarkExecuted(t0)
	assert.False(t, st.Due(t0.Add(5*time.Second-time.Nanosecond)))
	assert.True(t, st.Due(t0.Add(5*time.Second)))
}

// TestNextExecution_AfterRun verifies next = last + cadence, whatever the start time.
func TestNextExecution_AfterRun(t *testing.T) {
	start := t0.Add(-time.Hour)
	st := newTestTask(t, 5*time.Second, &start)

	st.MarkExecuted(t0)

	assert.Equal(t, t0.Add(5*time.Second), st.NextExecution(t0))
	assert.Equal(t, t0.Add(5*time.Second), st.NextExecution(t0.Add(time.Hour)))

	last, ran := st.LastExecution()
	assert.True(t, ran)
	assert.Equal(t, t0, last)
}

// TestNextExecution_NeverBeforeLastPlusCadence checks the invariant across many cadences.
func TestNextExecution_NeverBeforeLastPlusCadence(t *testing.T) {
	for _, every := range []time.Duration{time.Millisecond, time.Second, 90 * time.Second, 24 * time.Hour} {
		st := newTestTask(t, every, nil)
		st.MarkExecuted(t0)

		next := st.NextExecution(t0)
		assert.False(t, next.Before(t0.Add(every)), "every=%v", every)
		assert.False(t, st.Due(t0.Add(every-time.Nanosecond)), "every=%v", every)
		assert.True(t, st.Due(t0.Add(every)), "every=%v", every)
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_ReturnsTaskError(t *testing.T) {
	boom := errors.New("boom")
	st, err := NewScheduledTask(task.Func(func(context.Context) error { return boom }), "failing", time.Second, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, st.Run(context.Background()), boom)
}

// TestRun_RecoversPanic verifies that a panicking task becomes a *PanicError.
func TestRun_RecoversPanic(t *testing.T) {
	st, err := NewScheduledTask(task.FromFunc(func() { panic("kaboom") }), "panicky", time.Second, nil)
	require.NoError(t, err)

	runErr := st.Run(context.Background())

	var panicErr *PanicError
	require.ErrorAs(t, runErr, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Contains(t, runErr.Error(), "kaboom")
}

func TestRun_DoesNotMarkExecuted(t *testing.T) {
	st := newTestTask(t, time.Second, nil)

	require.NoError(t, st.Run(context.Background()))

	_, ran := st.LastExecution()
	assert.False(t, ran, "only the loop records executions")
}

func TestInfo_Snapshot(t *testing.T) {
	start := t0.Add(time.Minute)
	st := newTestTask(t, 5*time.Second, &start)

	info := st.info(t0)
	assert.Equal(t, st.ID(), info.ID)
	assert.Equal(t, "test", info.Name)
	assert.Equal(t, 5*time.Second, info.Every)
	require.NotNil(t, info.StartFrom)
	assert.Equal(t, start, *info.StartFrom)
	assert.Nil(t, info.LastExecution)
	assert.Equal(t, start, info.NextExecution)

	st.MarkExecuted(start)
	info = st.info(start)
	require.NotNil(t, info.LastExecution)
	assert.Equal(t, start.Add(5*time.Second), info.NextExecution)
}
