package inbox

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Errors returned by Send
var (
	ErrTimeout = errors.New("inbox: send timed out")
	ErrClosed  = errors.New("inbox: closed")
)

// Inbox is a bounded multi-producer, single-consumer message queue.
//
// Producers block in Send for at most the configured timeout when the buffer
// is full. The consumer drains with TryReceive and calls Close when it stops
// consuming; the data channel itself is never closed, so a late Send returns
// ErrClosed instead of panicking.
type Inbox[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
	timeout   time.Duration
	logger    *slog.Logger

	totalSent     atomic.Int64
	totalReceived atomic.Int64
	timeoutCount  atomic.Int64
	maxDepthSeen  atomic.Int64
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox with the given buffer size and send timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
}

// Send enqueues msg, waiting up to the configured timeout for buffer space.
func (ib *Inbox[T]) Send(msg T) error {
	select {
	case <-ib.done:
		return ErrClosed
	default:
	}

	// fast path avoids allocating a timer when there is room
	select {
	case ib.ch <- msg:
		ib.totalSent.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.totalSent.Add(1)
		return nil
	case <-ib.done:
		return ErrClosed
	case <-timer.C:
		ib.timeoutCount.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return ErrTimeout
	}
}

// TryReceive returns the next message without blocking.
// The boolean is false when the inbox is empty.
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.totalReceived.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// UpdateDepthStats records the current depth as a high-water mark candidate
func (ib *Inbox[T]) UpdateDepthStats() {
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepthSeen.Load()
		if depth <= seen || ib.maxDepthSeen.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// Stats returns a snapshot of the inbox counters
func (ib *Inbox[T]) Stats() Stats {
	return Stats{
		TotalSent:     ib.totalSent.Load(),
		TotalReceived: ib.totalReceived.Load(),
		TimeoutCount:  ib.timeoutCount.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepthSeen.Load()),
	}
}

// Len returns the number of queued messages
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

// Close marks the inbox as no longer consumed. It is safe to call more than once.
func (ib *Inbox[T]) Close() {
	ib.closeOnce.Do(func() {
		close(ib.done)
	})
}
