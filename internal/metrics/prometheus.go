package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	runsTriggeredTotal prometheus.Counter
	tickDuration       prometheus.Histogram
	tickDrift          prometheus.Histogram

	// Runner metrics
	stepDuration     *prometheus.HistogramVec
	stepErrorsTotal  *prometheus.CounterVec
	runOutcomesTotal *prometheus.CounterVec
	runsInFlight     prometheus.Gauge

	// Reporter metrics
	reportAttemptsTotal *prometheus.CounterVec
	reportOutcomesTotal *prometheus.CounterVec
	reportDuration      prometheus.Histogram

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reconciler metrics
	staleRuns prometheus.Gauge

	// Leader election metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initRunnerMetrics(reg)
	s.initReporterMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobrun_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobrun_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.runsTriggeredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobrun_scheduler_runs_triggered_total",
		Help: "Total number of runs triggered (trigger events emitted).",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobrun_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobrun_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "jobrun_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "jobrun_scheduler_tick_errors_total")
	s.register(reg, s.runsTriggeredTotal, "jobrun_scheduler_runs_triggered_total")
	s.register(reg, s.tickDuration, "jobrun_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "jobrun_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initRunnerMetrics(reg prometheus.Registerer) {
	s.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobrun_runner_step_duration_seconds",
		Help:    "Duration of each run pipeline step in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"step"})

	s.stepErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrun_runner_step_errors_total",
		Help: "Total number of failed run pipeline steps.",
	}, []string{"step"})

	s.runOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrun_runner_run_outcomes_total",
		Help: "Total number of terminal run outcomes.",
	}, []string{"outcome"})

	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobrun_runner_runs_in_flight",
		Help: "Number of runs currently being processed.",
	})

	s.register(reg, s.stepDuration, "jobrun_runner_step_duration_seconds")
	s.register(reg, s.stepErrorsTotal, "jobrun_runner_step_errors_total")
	s.register(reg, s.runOutcomesTotal, "jobrun_runner_run_outcomes_total")
	s.register(reg, s.runsInFlight, "jobrun_runner_runs_in_flight")
}

func (s *PrometheusSink) initReporterMetrics(reg prometheus.Registerer) {
	s.reportAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrun_reporter_attempts_total",
		Help: "Total number of outcome report delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.reportOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrun_reporter_outcomes_total",
		Help: "Total number of final report delivery outcomes per run.",
	}, []string{"outcome"})

	s.reportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobrun_reporter_request_duration_seconds",
		Help:    "Report webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.reportAttemptsTotal, "jobrun_reporter_attempts_total")
	s.register(reg, s.reportOutcomesTotal, "jobrun_reporter_outcomes_total")
	s.register(reg, s.reportDuration, "jobrun_reporter_request_duration_seconds")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobrun_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobrun_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobrun_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "jobrun_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "jobrun_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "jobrun_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.staleRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobrun_reconciler_stale_runs",
		Help: "Number of stale runs found in the last reconciliation cycle.",
	})

	s.register(reg, s.staleRuns, "jobrun_reconciler_stale_runs")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobrun_leader_is_leader",
		Help: "1 when this instance holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobrun_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobrun_leader_lost_total",
		Help: "Total number of times this instance lost leadership.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "jobrun_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "jobrun_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "jobrun_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, runsTriggered int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.runsTriggeredTotal.Add(float64(runsTriggered))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Runner metrics implementation

func (s *PrometheusSink) StepCompleted(step string, duration time.Duration, err error) {
	s.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if err != nil {
		s.stepErrorsTotal.WithLabelValues(step).Inc()
	}
}

func (s *PrometheusSink) RunOutcome(outcome string) {
	s.runOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

// Reporter metrics implementation

func (s *PrometheusSink) ReportAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.reportAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.reportDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ReportOutcome(outcome string) {
	s.reportOutcomesTotal.WithLabelValues(outcome).Inc()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) StaleRunsFound(count int) {
	s.staleRuns.Set(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
	} else {
		s.isLeader.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
