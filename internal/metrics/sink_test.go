package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyStatus_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       string
	}{
		{"200 OK", 200, StatusClass2xx},
		{"202 Accepted", 202, StatusClass2xx},
		{"299 boundary", 299, StatusClass2xx},
		{"400 Bad Request", 400, StatusClass4xx},
		{"404 Not Found", 404, StatusClass4xx},
		{"429 Rate Limit", 429, StatusClass4xx},
		{"500 Internal Server Error", 500, StatusClass5xx},
		{"503 Service Unavailable", 503, StatusClass5xx},
		{"302 redirect", 302, StatusClassOtherError},
		{"100 continue", 100, StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.statusCode, nil); got != tt.want {
				t.Errorf("ClassifyStatus(%d, nil) = %q, want %q", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"context deadline", errors.New("context deadline exceeded"), StatusClassTimeout},
		{"timeout in message", errors.New("request timeout"), StatusClassTimeout},
		{"mixed case timeout", errors.New("Timeout waiting for response"), StatusClassTimeout},
		{"connection refused", errors.New("connection refused"), StatusClassConnectionError},
		{"no such host", errors.New("no such host"), StatusClassConnectionError},
		{"unreachable", errors.New("network is unreachable"), StatusClassConnectionError},
		{"dial error", errors.New("dial tcp 10.0.0.1:443: connect: refused"), StatusClassConnectionError},
		{"generic error", errors.New("something broke"), StatusClassOtherError},
		{"empty error", errors.New(""), StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(0, tt.err); got != tt.want {
				t.Errorf("ClassifyStatus(0, %v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

// Error classification must win over any status code: a failed request may
// still carry a partial code from the transport.
func TestClassifyStatus_ErrorOverridesStatusCode(t *testing.T) {
	got := ClassifyStatus(200, errors.New("connection refused"))
	if got != StatusClassConnectionError {
		t.Errorf("ClassifyStatus(200, connection refused) = %q, want %q", got, StatusClassConnectionError)
	}
}

func TestNoopSink_AllMethodsSafe(t *testing.T) {
	var sink Sink = NewNoopSink()

	sink.TickStarted()
	sink.TickCompleted(time.Second, 3, nil)
	sink.TickCompleted(time.Second, 0, errors.New("boom"))
	sink.TickDrift(50 * time.Millisecond)
	sink.StepCompleted("provision", time.Second, nil)
	sink.RunOutcome("succeeded")
	sink.RunsInFlightIncr()
	sink.RunsInFlightDecr()
	sink.ReportAttemptCompleted(1, StatusClass2xx, time.Second)
	sink.ReportOutcome(OutcomeSuccess)
	sink.BufferSizeUpdate(5)
	sink.BufferCapacitySet(100)
	sink.EmitError()
	sink.StaleRunsFound(2)
	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	sink.LeaderLost("context cancelled")
}
