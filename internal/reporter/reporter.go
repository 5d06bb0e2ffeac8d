// Package reporter delivers terminal run outcomes to a job's webhook with
// retries. Report delivery may be retried; the run itself never is.
package reporter

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/jobrun/internal/circuitbreaker"
	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

type Store interface {
	InsertReportAttempt(ctx context.Context, attempt domain.ReportAttempt) error
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// Breaker guards endpoints that keep failing. Nil-safe via the optional
// builder; circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

var _ Breaker = (*circuitbreaker.CircuitBreaker)(nil)

// MetricsSink defines the interface for recording reporter metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ReportAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	ReportOutcome(outcome string)
}

type WebhookRequest struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Payload   WebhookPayload
	AttemptID string
}

// WebhookPayload is the outcome report body. FinishedAt is empty only for
// runs that never reached a terminal state.
type WebhookPayload struct {
	JobID       string `json:"job_id"`
	RunID       string `json:"run_id"`
	Trigger     string `json:"trigger"`
	Status      string `json:"status"`
	ExitCode    int    `json:"exit_code"`
	Error       string `json:"error,omitempty"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// Reporter posts run outcomes to webhook endpoints and records every
// attempt. It satisfies runner.Reporter; delivery failures never surface
// to the run.
type Reporter struct {
	store   Store
	sender  WebhookSender
	breaker Breaker     // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	backoff []time.Duration
}

func New(store Store, sender WebhookSender) *Reporter {
	return &Reporter{
		store:   store,
		sender:  sender,
		backoff: defaultBackoff,
	}
}

// WithBreaker attaches a circuit breaker to the reporter.
func (r *Reporter) WithBreaker(b Breaker) *Reporter {
	r.breaker = b
	return r
}

// WithMetrics attaches a metrics sink to the reporter.
func (r *Reporter) WithMetrics(sink MetricsSink) *Reporter {
	r.metrics = sink
	return r
}

// Report delivers the run outcome to the job's webhook, retrying
// retryable failures with bounded backoff.
func (r *Reporter) Report(ctx context.Context, job domain.Job, run domain.Run) {
	if job.Report.WebhookURL == "" {
		return
	}

	if r.breaker != nil {
		if err := r.breaker.Allow(job.Report.WebhookURL); err != nil {
			log.Printf("reporter: job=%s run=%s endpoint circuit open, skipping", job.ID, run.ID)
			if r.metrics != nil {
				r.metrics.ReportOutcome(metrics.OutcomeSkipped)
			}
			return
		}
	}

	payload := WebhookPayload{
		JobID:       run.JobID.String(),
		RunID:       run.ID.String(),
		Trigger:     string(run.Trigger),
		Status:      string(run.Status),
		ExitCode:    run.ExitCode,
		Error:       run.Error,
		ScheduledAt: run.ScheduledAt.UTC().Format(time.RFC3339),
		FiredAt:     run.FiredAt.UTC().Format(time.RFC3339),
	}
	if !run.FinishedAt.IsZero() {
		payload.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}

	req := WebhookRequest{
		URL:     job.Report.WebhookURL,
		Secret:  job.Report.Secret,
		Timeout: job.Report.Timeout,
		Payload: payload,
	}

	var lastResult WebhookResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			idx := attempt - 1
			if idx >= len(r.backoff) {
				idx = len(r.backoff) - 1
			}
			backoff := r.backoff[idx]

			log.Printf("reporter: job=%s run=%s attempt=%d backoff=%s", job.ID, run.ID, attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return
			case <-timer.C:
			}
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		startedAt := time.Now().UTC()
		result := r.sender.Send(ctx, req)
		finishedAt := time.Now().UTC()
		lastResult = result

		if r.metrics != nil {
			statusClass := metrics.ClassifyStatus(result.StatusCode, result.Error)
			r.metrics.ReportAttemptCompleted(attempt, statusClass, result.Duration)
		}

		attemptRecord := domain.ReportAttempt{
			ID:         attemptID,
			RunID:      run.ID,
			Attempt:    attempt,
			StatusCode: result.StatusCode,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if result.Error != nil {
			attemptRecord.Error = result.Error.Error()
		}

		if err := r.store.InsertReportAttempt(ctx, attemptRecord); err != nil {
			log.Printf("reporter: failed to record attempt: %v", err)
		}

		if result.IsSuccess() {
			log.Printf("reporter: job=%s run=%s reported attempt=%d", job.ID, run.ID, attempt)
			if r.breaker != nil {
				r.breaker.RecordSuccess(job.Report.WebhookURL)
			}
			if r.metrics != nil {
				r.metrics.ReportOutcome(metrics.OutcomeSuccess)
			}
			return
		}

		if !result.IsRetryable() {
			log.Printf("reporter: job=%s run=%s non-retryable status=%d", job.ID, run.ID, result.StatusCode)
			break
		}

		log.Printf("reporter: job=%s run=%s attempt=%d failed status=%d err=%v", job.ID, run.ID, attempt, result.StatusCode, result.Error)
	}

	log.Printf("reporter: job=%s run=%s report failed status=%d err=%v", job.ID, run.ID, lastResult.StatusCode, lastResult.Error)
	if r.breaker != nil {
		r.breaker.RecordFailure(job.Report.WebhookURL)
	}
	if r.metrics != nil {
		r.metrics.ReportOutcome(metrics.OutcomeFailed)
	}
}
