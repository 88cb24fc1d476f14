// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/livinlefevreloca/pulse/internal/inbox"
	"github.com/livinlefevreloca/pulse/internal/scheduler"
	"github.com/livinlefevreloca/pulse/internal/syncer"
)

// Recorder turns run records into Prometheus metrics. It is registered with
// the scheduler as a run observer.
type Recorder struct {
	executions    *prometheus.CounterVec
	errors        *prometheus.CounterVec
	successes     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	lag           *prometheus.HistogramVec
	heartbeats    prometheus.Counter
	lastHeartbeat prometheus.Gauge
}

// NewRecorder creates the scheduler metrics and registers them with reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_task_execution_total",
				Help: "Total number of task executions",
			},
			[]string{"name"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_task_execution_errors_total",
				Help: "Total number of task execution errors",
			},
			[]string{"name"},
		),
		successes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_task_execution_successes_total",
				Help: "Total number of task execution successes",
			},
			[]string{"name"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pulse_task_execution_duration_seconds",
				Help: "Duration of task executions",
			},
			[]string{"name"},
		),
		lag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_task_start_lag_seconds",
				Help:    "Delay between a task becoming due and starting",
				Buckets: []float64{.001, .01, .1, .5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"name"},
		),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_heartbeats_total",
			Help: "Total number of heartbeat ticks",
		}),
		lastHeartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_last_heartbeat_timestamp_seconds",
			Help: "Unix time of the most recent heartbeat tick",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.executions, r.errors, r.successes, r.duration, r.lag, r.heartbeats, r.lastHeartbeat,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ObserveRun records a single execution attempt
func (r *Recorder) ObserveRun(record scheduler.RunRecord) {
	r.executions.WithLabelValues(record.TaskName).Inc()
	r.duration.WithLabelValues(record.TaskName).Observe(record.Duration.Seconds())

	if lag := record.StartedAt.Sub(record.DueAt); lag >= 0 {
		r.lag.WithLabelValues(record.TaskName).Observe(lag.Seconds())
	}

	if record.Succeeded() {
		r.successes.WithLabelValues(record.TaskName).Inc()
	} else {
		r.errors.WithLabelValues(record.TaskName).Inc()
	}
}

// OnHeartbeat records a tick
func (r *Recorder) OnHeartbeat(now time.Time) {
	r.heartbeats.Inc()
	r.lastHeartbeat.Set(float64(now.Unix()) + float64(now.Nanosecond())/1e9)
}

var (
	_ scheduler.RunObserver       = (*Recorder)(nil)
	_ scheduler.HeartbeatObserver = (*Recorder)(nil)
)

// InboxCollector reports command inbox counters on every scrape. Nothing is
// reported while the scheduler is stopped.
type InboxCollector struct {
	stats func() (inbox.Stats, error)

	depth    *prometheus.Desc
	maxDepth *prometheus.Desc
	sent     *prometheus.Desc
	received *prometheus.Desc
	timeouts *prometheus.Desc
}

// NewInboxCollector creates a collector reading from stats, typically
// (*scheduler.Scheduler).InboxStats
func NewInboxCollector(stats func() (inbox.Stats, error)) *InboxCollector {
	return &InboxCollector{
		stats:    stats,
		depth:    prometheus.NewDesc("pulse_inbox_depth", "Commands waiting for the heartbeat loop", nil, nil),
		maxDepth: prometheus.NewDesc("pulse_inbox_max_depth", "Highest inbox depth observed", nil, nil),
		sent:     prometheus.NewDesc("pulse_inbox_sent_total", "Commands sent to the heartbeat loop", nil, nil),
		received: prometheus.NewDesc("pulse_inbox_received_total", "Commands applied by the heartbeat loop", nil, nil),
		timeouts: prometheus.NewDesc("pulse_inbox_send_timeouts_total", "Commands rejected because the inbox stayed full", nil, nil),
	}
}

func (c *InboxCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.maxDepth
	ch <- c.sent
	ch <- c.received
	ch <- c.timeouts
}

func (c *InboxCollector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.stats()
	if err != nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(s.CurrentDepth))
	ch <- prometheus.MustNewConstMetric(c.maxDepth, prometheus.GaugeValue, float64(s.MaxDepthSeen))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.TotalSent))
	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(s.TotalReceived))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.TimeoutCount))
}

// SyncerCollector reports execution history buffering counters on every scrape
type SyncerCollector struct {
	stats func() syncer.Stats

	buffered *prometheus.Desc
	dropped  *prometheus.Desc
	written  *prometheus.Desc
	failed   *prometheus.Desc
}

// NewSyncerCollector creates a collector reading from stats, typically
// (*syncer.Syncer).GetStats
func NewSyncerCollector(stats func() syncer.Stats) *SyncerCollector {
	return &SyncerCollector{
		stats:    stats,
		buffered: prometheus.NewDesc("pulse_history_buffered_runs", "Run records waiting to be flushed", nil, nil),
		dropped:  prometheus.NewDesc("pulse_history_dropped_runs_total", "Run records dropped because the buffer was full", nil, nil),
		written:  prometheus.NewDesc("pulse_history_written_runs_total", "Run records persisted to the history database", nil, nil),
		failed:   prometheus.NewDesc("pulse_history_failed_writes_total", "Run records that could not be persisted", nil, nil),
	}
}

func (c *SyncerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.buffered
	ch <- c.dropped
	ch <- c.written
	ch <- c.failed
}

func (c *SyncerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(s.BufferedRuns))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.DroppedRuns))
	ch <- prometheus.MustNewConstMetric(c.written, prometheus.CounterValue, float64(s.WrittenRuns))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.FailedWrites))
}
