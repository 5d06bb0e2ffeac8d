package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/trigger"
)

var ErrDuplicateRun = errors.New("run already exists")

// ErrManualDisabled is returned by DispatchManual for jobs whose schedule
// does not allow manual dispatch.
var ErrManualDisabled = errors.New("manual dispatch disabled for this job")

type Store interface {
	GetEnabledJobs(ctx context.Context) ([]domain.Job, error)
	InsertRun(ctx context.Context, run domain.Run) error
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink records scheduler metrics. All methods must be non-blocking.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, runsTriggered int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config   Config
	store    Store
	parser   CronParser
	emitter  EventEmitter
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	lastTick time.Time
}

func New(config Config, store Store, parser CronParser, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		store:   store,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) error {
	start := s.clock().UTC()
	if s.metrics != nil {
		s.metrics.TickStarted()
		s.metrics.TickDrift(start.Sub(s.lastTick) - s.config.TickInterval)
	}

	now := start
	triggered := 0

	jobs, err := s.store.GetEnabledJobs(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TickCompleted(s.clock().UTC().Sub(start), 0, err)
		}
		return fmt.Errorf("get jobs: %w", err)
	}

	for _, job := range jobs {
		n, err := s.processJob(ctx, job, s.lastTick, now)
		triggered += n
		if err != nil {
			log.Printf("scheduler: job %s error: %v", job.ID, err)
		}
	}

	s.lastTick = now
	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().UTC().Sub(start), triggered, nil)
	}
	return nil
}

// processJob emits a run for every due time of the job's cron expression
// between lastTick and now. Manual-only jobs have no expression and never
// fire on a tick. Returns the number of runs triggered.
func (s *Scheduler) processJob(ctx context.Context, job domain.Job, lastTick, now time.Time) (int, error) {
	spec := job.Schedule
	if spec.CronExpression == "" {
		return 0, nil
	}

	tz := spec.Timezone
	if tz == "" {
		tz = "UTC"
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("load tz %s: %w", tz, err)
	}

	cronSched, err := s.parser.Parse(spec.CronExpression, tz)
	if err != nil {
		return 0, fmt.Errorf("parse cron: %w", err)
	}

	lastTickInTZ := lastTick.In(loc)
	nowInTZ := now.In(loc)

	// Loop through all due times since last tick
	const maxIterations = 1000
	triggered := 0
	t := cronSched.Next(lastTickInTZ)

	for i := 0; i < maxIterations && !t.After(nowInTZ); i++ {
		scheduledAtUTC := t.UTC().Truncate(time.Minute)

		if err := s.emitRun(ctx, job, domain.TriggerSchedule, scheduledAtUTC, now); err != nil {
			log.Printf("scheduler: job %s at %s error: %v", job.ID, scheduledAtUTC.Format(time.RFC3339), err)
		} else {
			triggered++
		}

		t = cronSched.Next(t)
	}

	return triggered, nil
}

// DispatchManual fires a run for the job immediately, bypassing the cron
// expression. The job's schedule must allow manual dispatch.
func (s *Scheduler) DispatchManual(ctx context.Context, job domain.Job) (domain.Run, error) {
	now := s.clock().UTC()

	fires, err := trigger.Evaluate(now, job.Schedule, true)
	if err != nil {
		return domain.Run{}, err
	}
	if !fires {
		return domain.Run{}, ErrManualDisabled
	}

	runID := uuid.New()

	run := domain.Run{
		ID:          runID,
		JobID:       job.ID,
		ProjectID:   job.ProjectID,
		Trigger:     domain.TriggerManual,
		ScheduledAt: now,
		FiredAt:     now,
		Status:      domain.RunStatusTriggered,
		CreatedAt:   now,
	}

	if err := s.store.InsertRun(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}

	event := domain.TriggerEvent{
		RunID:          runID,
		JobID:          job.ID,
		ProjectID:      job.ProjectID,
		Trigger:        domain.TriggerManual,
		ScheduledAt:    now,
		FiredAt:        now,
		IdempotencyKey: generateIdempotencyKey(runID, now),
		CreatedAt:      now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		return domain.Run{}, fmt.Errorf("emit: %w", err)
	}

	log.Printf("scheduler: manual dispatch job=%s run=%s", job.ID, runID)
	return run, nil
}

func (s *Scheduler) emitRun(ctx context.Context, job domain.Job, trig domain.Trigger, scheduledAt, now time.Time) error {
	idempotencyKey := generateIdempotencyKey(job.ID, scheduledAt)
	runID := uuid.New()

	run := domain.Run{
		ID:          runID,
		JobID:       job.ID,
		ProjectID:   job.ProjectID,
		Trigger:     trig,
		ScheduledAt: scheduledAt,
		FiredAt:     now,
		Status:      domain.RunStatusTriggered,
		CreatedAt:   now,
	}

	if err := s.store.InsertRun(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			return nil // already emitted
		}
		return fmt.Errorf("insert run: %w", err)
	}

	event := domain.TriggerEvent{
		RunID:          runID,
		JobID:          job.ID,
		ProjectID:      job.ProjectID,
		Trigger:        trig,
		ScheduledAt:    scheduledAt,
		FiredAt:        now,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit: %w", err)
	}

	log.Printf("scheduler: emitted job=%s scheduled_at=%s", job.ID, scheduledAt.Format(time.RFC3339))
	return nil
}

func generateIdempotencyKey(id uuid.UUID, scheduledAt time.Time) string {
	data := fmt.Sprintf("%s:%d", id.String(), scheduledAt.Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
