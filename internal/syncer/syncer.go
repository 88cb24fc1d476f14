// Package syncer persists task execution history off the heartbeat loop.
//
// Records are buffered by the goroutine that reports them (the loop) and
// handed in batches to a background writer, so a slow database never delays
// a tick.
package syncer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/pulse/internal/db"
	"github.com/livinlefevreloca/pulse/internal/scheduler"
)

// Syncer handles all database write operations and buffering
type Syncer struct {
	// Configuration
	config Config
	logger *slog.Logger

	// Run record buffering, owned by the reporting goroutine
	runBuffer    []*db.TaskRun
	runChannel   chan *db.TaskRun
	lastRunFlush time.Time

	// Counters readable from any goroutine
	buffered atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64

	// Control
	started atomic.Bool
	wg      sync.WaitGroup // Tracks background goroutines (writer only)
}

// NewSyncer creates a new syncer with the specified configuration
func NewSyncer(config Config, logger *slog.Logger) (*Syncer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Syncer{
		config:       config,
		logger:       logger.With("component", "syncer"),
		runBuffer:    make([]*db.TaskRun, 0),
		runChannel:   make(chan *db.TaskRun, config.RunChannelSize),
		lastRunFlush: time.Now(),
	}, nil
}

// ObserveRun buffers a run record, flushing once the size threshold is reached.
// When the buffer exceeds its maximum the oldest record is dropped.
func (s *Syncer) ObserveRun(record scheduler.RunRecord) {
	s.BufferRun(toTaskRun(record))
}

// OnHeartbeat flushes the buffer when the flush interval has elapsed
func (s *Syncer) OnHeartbeat(now time.Time) {
	if len(s.runBuffer) == 0 {
		return
	}
	if now.Sub(s.lastRunFlush) < s.config.RunFlushInterval {
		return
	}

	if err := s.FlushRuns(now); err != nil {
		s.logger.Warn("time based flush incomplete", "error", err)
	}
}

// BufferRun adds a run to the buffer
func (s *Syncer) BufferRun(run *db.TaskRun) {
	s.runBuffer = append(s.runBuffer, run)

	if over := len(s.runBuffer) - s.config.MaxBufferedRuns; over > 0 {
		s.runBuffer = s.runBuffer[over:]
		s.dropped.Add(int64(over))
		s.logger.Warn("run buffer exceeded maximum size, dropped oldest records",
			"dropped", over,
			"max", s.config.MaxBufferedRuns)
	}

	s.buffered.Store(int64(len(s.runBuffer)))

	if len(s.runBuffer) >= s.config.RunFlushThreshold {
		if err := s.FlushRuns(time.Now()); err != nil {
			s.logger.Warn("size based flush incomplete", "error", err)
		}
	}
}

// errChannelFull is returned by FlushRuns when the writer is behind
var errChannelFull = errors.New("run channel full")

// FlushRuns sends buffered runs to the writer without blocking.
// Runs that do not fit stay buffered for the next flush.
func (s *Syncer) FlushRuns(now time.Time) error {
	if len(s.runBuffer) == 0 {
		return nil
	}

	sent := 0
	for _, run := range s.runBuffer {
		select {
		case s.runChannel <- run:
			sent++
		default:
			s.runBuffer = s.runBuffer[sent:]
			s.buffered.Store(int64(len(s.runBuffer)))
			return fmt.Errorf("%w, %d runs still buffered", errChannelFull, len(s.runBuffer))
		}
	}

	// All sent, clear buffer and update timestamp
	s.runBuffer = make([]*db.TaskRun, 0)
	s.buffered.Store(0)
	s.lastRunFlush = now
	return nil
}

// GetStats returns current syncer statistics
func (s *Syncer) GetStats() Stats {
	return Stats{
		BufferedRuns: int(s.buffered.Load()),
		DroppedRuns:  s.dropped.Load(),
		WrittenRuns:  s.written.Load(),
		FailedWrites: s.failed.Load(),
	}
}

// GetLastRunFlushTime returns the timestamp of the last complete flush
func (s *Syncer) GetLastRunFlushTime() time.Time {
	return s.lastRunFlush
}

// Start launches the background writer
func (s *Syncer) Start(w Writer) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(1)
	go s.runWriter(w)
}

// runWriter writes run records to the database
func (s *Syncer) runWriter(w Writer) {
	defer s.wg.Done()

	for run := range s.runChannel {
		if err := w.InsertTaskRun(run); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				s.logger.Debug("run already recorded", "run_id", run.RunID)
				continue
			}
			s.failed.Add(1)
			s.logger.Error("failed to write task run",
				"run_id", run.RunID,
				"task", run.TaskName,
				"error", err)
			continue
		}

		s.written.Add(1)
		s.logger.Debug("wrote task run", "run_id", run.RunID, "task", run.TaskName)
	}

	s.logger.Debug("run writer shut down")
}

// Shutdown performs graceful shutdown ensuring all buffered runs are persisted.
// It must be called after the scheduler has stopped reporting runs.
func (s *Syncer) Shutdown() error {
	s.logger.Info("starting syncer shutdown", "buffered_runs", len(s.runBuffer))

	if !s.started.Load() {
		close(s.runChannel)
		return fmt.Errorf("syncer never started, %d buffered runs discarded", len(s.runBuffer)+len(s.runChannel))
	}

	// The writer is draining, so blocking sends finish
	for _, run := range s.runBuffer {
		s.runChannel <- run
	}
	s.runBuffer = nil
	s.buffered.Store(0)

	close(s.runChannel)
	s.wg.Wait()

	s.logger.Info("syncer shutdown complete",
		"written", s.written.Load(),
		"failed", s.failed.Load())
	return nil
}

func toTaskRun(record scheduler.RunRecord) *db.TaskRun {
	run := &db.TaskRun{
		RunID:      record.RunID,
		TaskID:     string(record.TaskID),
		TaskName:   record.TaskName,
		DueAt:      record.DueAt,
		StartedAt:  record.StartedAt,
		DurationMS: record.Duration.Milliseconds(),
		Success:    record.Err == nil,
	}
	if record.Err != nil {
		msg := record.Err.Error()
		run.Error = &msg
	}
	return run
}

var (
	_ scheduler.RunObserver       = (*Syncer)(nil)
	_ scheduler.HeartbeatObserver = (*Syncer)(nil)
)
