package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                            {}
func (n *NoopSink) TickCompleted(duration time.Duration, runsTriggered int, err error)      {}
func (n *NoopSink) TickDrift(drift time.Duration)                                           {}
func (n *NoopSink) StepCompleted(step string, duration time.Duration, err error)            {}
func (n *NoopSink) RunOutcome(outcome string)                                               {}
func (n *NoopSink) RunsInFlightIncr()                                                       {}
func (n *NoopSink) RunsInFlightDecr()                                                       {}
func (n *NoopSink) ReportAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) ReportOutcome(outcome string)                                            {}
func (n *NoopSink) BufferSizeUpdate(size int)                                               {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                          {}
func (n *NoopSink) EmitError()                                                              {}
func (n *NoopSink) StaleRunsFound(count int)                                                {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                       {}
func (n *NoopSink) LeaderAcquired()                                                         {}
func (n *NoopSink) LeaderLost(reason string)                                                {}

var _ Sink = (*NoopSink)(nil)
