package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/jobrun/internal/api"
	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/runner"
	"github.com/djlord-it/jobrun/internal/scheduler"
)

// Store implements scheduler.Store, runner.Store and api.Store using
// PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// Every operation is bounded by opTimeout; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var timeoutMs, reportTimeoutMs int64

	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.Name,
		&job.Enabled,
		&job.Schedule.CronExpression,
		&job.Schedule.Timezone,
		&job.Schedule.AllowManual,
		&job.Environment.Platform,
		&job.Environment.Interpreter,
		&job.Environment.InterpreterVersion,
		&job.Environment.Manifest,
		pq.Array(&job.SecretNames),
		&job.Task.Script,
		&timeoutMs,
		&job.Report.Type,
		&job.Report.WebhookURL,
		&job.Report.Secret,
		&reportTimeoutMs,
		&job.Analytics.Enabled,
		&job.Analytics.RetentionSeconds,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Timeout = time.Duration(timeoutMs) * time.Millisecond
	job.Report.Timeout = time.Duration(reportTimeoutMs) * time.Millisecond
	return job, nil
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var status, trigger string
	var finishedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.JobID,
		&run.ProjectID,
		&trigger,
		&run.ScheduledAt,
		&run.FiredAt,
		&status,
		&run.ExitCode,
		&run.Error,
		&run.CreatedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}
	run.Trigger = domain.Trigger(trigger)
	run.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}

// GetEnabledJobs returns all enabled jobs with their full definitions.
func (s *Store) GetEnabledJobs(ctx context.Context) ([]domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetEnabledJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetJobByID returns a job by its ID.
func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return scanJob(s.db.QueryRowContext(ctx, queryGetJobByID, jobID))
}

// InsertRun inserts a new run record.
// Returns scheduler.ErrDuplicateRun if (job_id, trigger, scheduled_at) already exists.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		run.JobID,
		run.ProjectID,
		string(run.Trigger),
		run.ScheduledAt,
		run.FiredAt,
		string(run.Status),
		run.ExitCode,
		run.Error,
		run.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return scheduler.ErrDuplicateRun
		}
		return err
	}
	return nil
}

// UpdateRunStatus advances a run to a non-terminal status.
// Returns runner.ErrStatusTransitionDenied if the run is already in a terminal state.
// This uses an atomic UPDATE with WHERE clause to prevent TOCTOU race conditions.
func (s *Store) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Single atomic update with guard in WHERE clause.
	// PostgreSQL acquires row lock before evaluating WHERE,
	// ensuring serialized access under concurrency.
	result, err := s.db.ExecContext(ctx, queryUpdateRunStatus, string(status), runID)
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, result, runID)
}

// CompleteRun records the terminal status, exit code and error of a run.
// Same terminal-state guard as UpdateRunStatus.
func (s *Store) CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, exitCode int, runErr string, finishedAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryCompleteRun, string(status), exitCode, runErr, finishedAt, runID)
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, result, runID)
}

// checkGuarded resolves a zero-row guarded update: either the run does not
// exist, or it was already terminal.
func (s *Store) checkGuarded(ctx context.Context, result sql.Result, runID uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	var currentStatus string
	err = s.db.QueryRowContext(ctx, queryGetRunStatus, runID).Scan(&currentStatus)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return err
	}
	// Row exists but wasn't updated => terminal state
	return runner.ErrStatusTransitionDenied
}

// InsertRunStep inserts a pipeline step record for a run.
func (s *Store) InsertRunStep(ctx context.Context, step domain.RunStep) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRunStep,
		step.ID,
		step.RunID,
		step.Step,
		step.Error,
		step.StartedAt,
		step.FinishedAt,
	)
	return err
}

// InsertReportAttempt inserts an outcome report delivery attempt record.
func (s *Store) InsertReportAttempt(ctx context.Context, attempt domain.ReportAttempt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertReportAttempt,
		attempt.ID,
		attempt.RunID,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// CreateJob inserts a new job definition.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	secretNames := job.SecretNames
	if secretNames == nil {
		secretNames = []string{}
	}
	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.ProjectID,
		job.Name,
		job.Enabled,
		job.Schedule.CronExpression,
		job.Schedule.Timezone,
		job.Schedule.AllowManual,
		job.Environment.Platform,
		job.Environment.Interpreter,
		job.Environment.InterpreterVersion,
		job.Environment.Manifest,
		pq.Array(secretNames),
		job.Task.Script,
		job.Timeout.Milliseconds(),
		string(job.Report.Type),
		job.Report.WebhookURL,
		job.Report.Secret,
		job.Report.Timeout.Milliseconds(),
		job.Analytics.Enabled,
		job.Analytics.RetentionSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// ListJobs returns jobs for a project, paginated by limit and offset.
func (s *Store) ListJobs(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobs, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ListRuns returns runs for a job, paginated by limit and offset.
func (s *Store) ListRuns(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Run, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetStaleRuns returns runs stuck in a non-terminal status that were
// created before the given threshold time.
// Results are ordered by created_at ASC (oldest first) and limited to maxResults.
func (s *Store) GetStaleRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Run, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStaleRuns, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteJob deletes a job and all of its runs, steps and report attempts.
func (s *Store) DeleteJob(ctx context.Context, jobID, projectID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteJob, jobID, projectID).Scan(&deletedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return err
	}
	return nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	// Fallback for wrapped drivers
	errStr := err.Error()
	return contains(errStr, "23505") || contains(errStr, "unique constraint") || contains(errStr, "duplicate key")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Compile-time interface assertions
var (
	_ scheduler.Store = (*Store)(nil)
	_ runner.Store    = (*Store)(nil)
	_ api.Store       = (*Store)(nil)
)
