package task

import "context"

// Task is a unit of work the scheduler runs on a cadence.
//
// Execute returns nil on success or an error describing why the run failed.
// The scheduler never retries a failed run; the next attempt happens at the
// next due time.
type Task interface {
	Execute(ctx context.Context) error
}

// Func adapts an ordinary function to the Task interface.
type Func func(ctx context.Context) error

// Execute calls f(ctx).
func (f Func) Execute(ctx context.Context) error {
	return f(ctx)
}

// FromFunc wraps a function that cannot fail.
func FromFunc(fn func()) Func {
	return func(context.Context) error {
		fn()
		return nil
	}
}

var _ Task = Func(nil)
