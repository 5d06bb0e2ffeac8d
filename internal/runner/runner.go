// Package runner drives one run end to end: provision an environment,
// install dependencies, bind secrets, execute the task. Steps run strictly
// in that order; any step failure short-circuits to a failed run without
// executing the task, and nothing is retried within the run. Recovery, if
// any, belongs to the next trigger.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/environment"
)

// DefaultRunTimeout bounds a run when the job does not set its own.
const DefaultRunTimeout = 30 * time.Minute

// DefaultDrainTimeout is the maximum time to process buffered events
// during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// ErrStatusTransitionDenied is returned by stores when a status update
// would regress from a terminal state. This makes replays safe.
var ErrStatusTransitionDenied = errors.New("status transition denied: run already in terminal state")

type Store interface {
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	// UpdateRunStatus advances a run to a non-terminal status.
	// Implementations MUST reject transitions away from terminal states
	// with ErrStatusTransitionDenied.
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error
	// CompleteRun records the terminal status, exit code and error of a run.
	// Same terminal-state guard as UpdateRunStatus.
	CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, exitCode int, runErr string, finishedAt time.Time) error
	InsertRunStep(ctx context.Context, step domain.RunStep) error
}

type Provisioner interface {
	Provision(ctx context.Context, spec domain.EnvironmentSpec) (*environment.Environment, error)
}

type Installer interface {
	Install(ctx context.Context, env *environment.Environment, spec domain.EnvironmentSpec) error
}

type SecretSource interface {
	Resolve(ctx context.Context, names []string) ([]domain.SecretBinding, error)
}

type Executor interface {
	Run(ctx context.Context, env *environment.Environment, spec domain.TaskSpec, bindings []domain.SecretBinding) (domain.Outcome, error)
}

// Reporter delivers terminal run outcomes to the job's report target.
// Implementations handle their own retries; errors never affect the run.
type Reporter interface {
	Report(ctx context.Context, job domain.Job, run domain.Run)
}

// AnalyticsSink records run outcomes, best-effort.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.TriggerEvent, status domain.RunStatus, config domain.AnalyticsConfig)
}

// MetricsSink records runner metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	StepCompleted(step string, duration time.Duration, err error)
	RunOutcome(outcome string)
	RunsInFlightIncr()
	RunsInFlightDecr()
}

type Runner struct {
	store       Store
	provisioner Provisioner
	installer   Installer
	secrets     SecretSource
	executor    Executor

	reporter  Reporter      // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled

	defaultTimeout time.Duration
	drainTimeout   time.Duration
	clock          func() time.Time
}

func New(store Store, provisioner Provisioner, installer Installer, secrets SecretSource, executor Executor) *Runner {
	return &Runner{
		store:          store,
		provisioner:    provisioner,
		installer:      installer,
		secrets:        secrets,
		executor:       executor,
		defaultTimeout: DefaultRunTimeout,
		drainTimeout:   DefaultDrainTimeout,
		clock:          time.Now,
	}
}

func (r *Runner) WithReporter(rep Reporter) *Runner {
	r.reporter = rep
	return r
}

func (r *Runner) WithAnalytics(sink AnalyticsSink) *Runner {
	r.analytics = sink
	return r
}

func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithDefaultTimeout sets the run timeout used when a job has none.
func (r *Runner) WithDefaultTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.defaultTimeout = d
	}
	return r
}

// WithDrainTimeout sets the shutdown drain budget.
func (r *Runner) WithDrainTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.drainTimeout = d
	}
	return r
}

// Run processes trigger events from the channel until ctx is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (r *Runner) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return
		case event := <-ch:
			if err := r.Process(ctx, event); err != nil {
				log.Printf("runner: error: %v", err)
			}
		}
	}
}

// drain processes remaining events in the channel buffer after the
// shutdown signal. Uses a background context since the main context is
// already cancelled.
func (r *Runner) drain(ch <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("runner: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("runner: drain complete, processed %d events", count)
				return
			}
			if err := r.Process(drainCtx, event); err != nil {
				log.Printf("runner: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("runner: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Process drives a single run to a terminal state.
func (r *Runner) Process(ctx context.Context, event domain.TriggerEvent) error {
	if r.metrics != nil {
		r.metrics.RunsInFlightIncr()
		defer r.metrics.RunsInFlightDecr()
	}

	job, err := r.store.GetJobByID(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	// The run budget lives on a child context; the terminal status is
	// written with the parent so a timed-out run is still recorded.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	result := r.executeRun(runCtx, job, event)
	cancel()

	now := r.clock().UTC()
	if err := r.store.CompleteRun(ctx, event.RunID, result.status, result.exitCode, result.errMsg, now); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			// Run already terminal (likely reprocessing). Safe to ignore.
			log.Printf("runner: job=%s run=%s already terminal, skipping completion", event.JobID, event.RunID)
			return nil
		}
		return fmt.Errorf("complete run: %w", err)
	}

	log.Printf("runner: job=%s run=%s finished status=%s exit=%d", event.JobID, event.RunID, result.status, result.exitCode)

	if r.metrics != nil {
		r.metrics.RunOutcome(string(result.status))
	}
	r.writeAnalytics(ctx, event, result.status, job)

	if r.reporter != nil && job.Report.WebhookURL != "" {
		run := domain.Run{
			ID:          event.RunID,
			JobID:       event.JobID,
			ProjectID:   event.ProjectID,
			Trigger:     event.Trigger,
			ScheduledAt: event.ScheduledAt,
			FiredAt:     event.FiredAt,
			Status:      result.status,
			ExitCode:    result.exitCode,
			Error:       result.errMsg,
			FinishedAt:  now,
		}
		r.reporter.Report(ctx, job, run)
	}

	return nil
}

// runResult is the terminal state of one run.
type runResult struct {
	status   domain.RunStatus
	exitCode int
	errMsg   string
}

// executeRun walks the pipeline. Provision, install and bind failures
// short-circuit without executing the task; only the execute step can
// produce succeeded or timed_out.
func (r *Runner) executeRun(ctx context.Context, job domain.Job, event domain.TriggerEvent) runResult {
	// Step 1: provision.
	r.setStatus(ctx, event.RunID, domain.RunStatusProvisioning)
	env, err := runStep(ctx, r, event.RunID, domain.StepProvision, func() (*environment.Environment, error) {
		return r.provisioner.Provision(ctx, job.Environment)
	})
	if err != nil {
		return r.failed(ctx, fmt.Errorf("provision: %w", err))
	}
	// Release on every path, including cancellation. Secret bindings only
	// ever live on this goroutine's stack, so they die with the run.
	defer env.Release()

	// Step 2: install dependencies.
	r.setStatus(ctx, event.RunID, domain.RunStatusInstallingDeps)
	_, err = runStep(ctx, r, event.RunID, domain.StepInstallDeps, func() (struct{}, error) {
		return struct{}{}, r.installer.Install(ctx, env, job.Environment)
	})
	if err != nil {
		return r.failed(ctx, err)
	}

	// Step 3: bind secrets. All-or-nothing is enforced by the source.
	r.setStatus(ctx, event.RunID, domain.RunStatusBindingSecrets)
	bindings, err := runStep(ctx, r, event.RunID, domain.StepBindSecrets, func() ([]domain.SecretBinding, error) {
		return r.secrets.Resolve(ctx, job.SecretNames)
	})
	if err != nil {
		return r.failed(ctx, fmt.Errorf("bind secrets: %w", err))
	}

	// Step 4: execute.
	r.setStatus(ctx, event.RunID, domain.RunStatusExecuting)
	outcome, err := runStep(ctx, r, event.RunID, domain.StepExecute, func() (domain.Outcome, error) {
		return r.executor.Run(ctx, env, job.Task, bindings)
	})
	if err != nil {
		return r.failed(ctx, err)
	}

	switch outcome.Status {
	case domain.RunStatusFailed:
		return runResult{status: domain.RunStatusFailed, exitCode: outcome.ExitCode,
			errMsg: fmt.Sprintf("task exited with code %d", outcome.ExitCode)}
	case domain.RunStatusTimedOut:
		return runResult{status: domain.RunStatusTimedOut, errMsg: "run exceeded its time budget"}
	default:
		return runResult{status: domain.RunStatusSucceeded}
	}
}

// failed classifies a step failure. A deadline hit anywhere in the
// pipeline is a timeout of the run, not a plain failure.
func (r *Runner) failed(ctx context.Context, err error) runResult {
	if ctx.Err() == context.DeadlineExceeded {
		return runResult{status: domain.RunStatusTimedOut, errMsg: "run exceeded its time budget"}
	}
	return runResult{status: domain.RunStatusFailed, errMsg: err.Error()}
}

// runStep times a pipeline step and records it. Step records are
// best-effort: a store failure is logged but never fails the run.
func runStep[T any](ctx context.Context, r *Runner, runID uuid.UUID, name string, fn func() (T, error)) (T, error) {
	startedAt := r.clock().UTC()
	result, err := fn()
	finishedAt := r.clock().UTC()

	if r.metrics != nil {
		r.metrics.StepCompleted(name, finishedAt.Sub(startedAt), err)
	}

	step := domain.RunStep{
		ID:         uuid.New(),
		RunID:      runID,
		Step:       name,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if err != nil {
		step.Error = err.Error()
	}
	if storeErr := r.store.InsertRunStep(ctx, step); storeErr != nil {
		log.Printf("runner: failed to record step %s: %v", name, storeErr)
	}

	return result, err
}

// setStatus advances the run's status, best-effort. A denied transition
// means the run was already completed elsewhere; the pipeline continues
// and the completion write settles it.
func (r *Runner) setStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) {
	if err := r.store.UpdateRunStatus(ctx, runID, status); err != nil && !errors.Is(err, ErrStatusTransitionDenied) {
		log.Printf("runner: failed to set run=%s status=%s: %v", runID, status, err)
	}
}

// writeAnalytics records the outcome as a best-effort side-effect.
func (r *Runner) writeAnalytics(ctx context.Context, event domain.TriggerEvent, status domain.RunStatus, job domain.Job) {
	if r.analytics == nil {
		if job.Analytics.Enabled {
			log.Printf("runner: job=%s analytics enabled but no sink configured", event.JobID)
		}
		return
	}
	if !job.Analytics.Enabled {
		return
	}
	r.analytics.Record(ctx, event, status, job.Analytics)
}
