// Package metrics collects and exposes process-level observability data for
// the proving pipeline (EPP) and the expiry reconciliation service (ERS).
//
// A single Prometheus registry backs both subsystems; each binary
// (cmd/epp, cmd/ers) calls Init once at startup. Handler exposes the
// registry, but neither binary serves it. Recording methods are no-ops on
// a nil *Metrics so that callers need no nil check. IncSegmentsWritten,
// IncKeccakRequests and IncTaskCreated are defined but have no callers in
// the pipeline, so those counters stay at zero.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for both subsystems.
type Metrics struct {
	registry *prometheus.Registry

	segmentsWritten  prometheus.Counter
	keccakRequests   prometheus.Counter
	tasksCreated     *prometheus.CounterVec // label: kind (segment, join, resolve, finalize, snark, keccak)
	runsTotal        *prometheus.CounterVec // label: outcome (ok, validation_error, io_error, executor_error, planner_error, taskdb_error)
	runDuration      prometheus.Histogram
	jobSegmentCount  prometheus.Histogram

	pollTicksTotal      *prometheus.CounterVec // label: outcome (ok, fatal, recoverable_error)
	slashesTotal        *prometheus.CounterVec // label: outcome (success, benign_race, request_not_expired, insufficient_funds, recoverable)
	consecutiveFailures prometheus.Gauge
	lastProcessedBlock  prometheus.Gauge
}

var global *Metrics

// defaultBuckets covers a single-digit-second to multi-minute EPP run.
var defaultDurationBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

// Init builds and registers the global metrics instance. Calling it more
// than once replaces the previous instance; tests typically call it once
// per process.
func Init(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		segmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_written_total",
			Help:      "Total segments staged to the hot cache by the segment writer.",
		}),
		keccakRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keccak_requests_total",
			Help:      "Total coprocessor requests drained by the coprocessor sidecar.",
		}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total tasks created in the task DB, by kind.",
		}, []string{"kind"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epp_runs_total",
			Help:      "Total orchestrator runs, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epp_run_duration_seconds",
			Help:      "Wall-clock duration of an orchestrator run.",
			Buckets:   defaultDurationBuckets,
		}),
		jobSegmentCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epp_job_segment_count",
			Help:      "Number of segments produced per job.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),

		pollTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ers_poll_ticks_total",
			Help:      "Total ERS poller ticks, by outcome.",
		}, []string{"outcome"}),
		slashesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ers_slashes_total",
			Help:      "Total slash attempts, by classified outcome.",
		}, []string{"outcome"}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ers_consecutive_failures",
			Help:      "Current consecutive recoverable-failure count in the supervisor.",
		}),
		lastProcessedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ers_last_processed_block",
			Help:      "Last block number fully processed by the event poller.",
		}),
	}

	registry.MustRegister(
		m.segmentsWritten,
		m.keccakRequests,
		m.tasksCreated,
		m.runsTotal,
		m.runDuration,
		m.jobSegmentCount,
		m.pollTicksTotal,
		m.slashesTotal,
		m.consecutiveFailures,
		m.lastProcessedBlock,
	)

	global = m
	return m
}

// Global returns the process-wide metrics instance, or nil if Init has not
// been called.
func Global() *Metrics {
	return global
}

// Handler returns an HTTP handler for Prometheus scraping. It serves an
// empty registry if Init has not been called yet.
func Handler() http.Handler {
	if global == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(global.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncSegmentsWritten() {
	if m == nil {
		return
	}
	m.segmentsWritten.Inc()
}

func (m *Metrics) IncKeccakRequests() {
	if m == nil {
		return
	}
	m.keccakRequests.Inc()
}

func (m *Metrics) IncTaskCreated(kind string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRun(outcome string, durationSeconds float64, segmentCount int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(durationSeconds)
	m.jobSegmentCount.Observe(float64(segmentCount))
}

func (m *Metrics) RecordPollTick(outcome string) {
	if m == nil {
		return
	}
	m.pollTicksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSlash(outcome string) {
	if m == nil {
		return
	}
	m.slashesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.consecutiveFailures.Set(float64(n))
}

func (m *Metrics) SetLastProcessedBlock(block uint64) {
	if m == nil {
		return
	}
	m.lastProcessedBlock.Set(float64(block))
}
