package postgres

// Job rows carry the full job definition inline: schedule, environment,
// task, report and analytics settings. secret_names is a TEXT[] column.
const jobColumns = `
    id, project_id, name, enabled,
    cron_expression, timezone, allow_manual,
    platform, interpreter, interpreter_version, manifest,
    secret_names, script, timeout_ms,
    report_type, webhook_url, report_secret, report_timeout_ms,
    analytics_enabled, analytics_retention_seconds,
    created_at, updated_at`

const queryGetEnabledJobs = `
SELECT` + jobColumns + `
FROM jobs
WHERE enabled = true
ORDER BY id
`

const queryGetJobByID = `
SELECT` + jobColumns + `
FROM jobs
WHERE id = $1
`

const queryListJobs = `
SELECT` + jobColumns + `
FROM jobs
WHERE project_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryInsertJob = `
INSERT INTO jobs (
    id, project_id, name, enabled,
    cron_expression, timezone, allow_manual,
    platform, interpreter, interpreter_version, manifest,
    secret_names, script, timeout_ms,
    report_type, webhook_url, report_secret, report_timeout_ms,
    analytics_enabled, analytics_retention_seconds,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
`

// Uniqueness on (job_id, trigger, scheduled_at) makes scheduler replays
// idempotent.
const queryInsertRun = `
INSERT INTO runs (id, job_id, project_id, trigger, scheduled_at, fired_at, status, exit_code, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryGetRunStatus = `
SELECT status FROM runs WHERE id = $1
`

const queryUpdateRunStatus = `
UPDATE runs
SET status = $1
WHERE id = $2
  AND status NOT IN ('succeeded', 'failed', 'timed_out')
`

const queryCompleteRun = `
UPDATE runs
SET status = $1, exit_code = $2, error = $3, finished_at = $4
WHERE id = $5
  AND status NOT IN ('succeeded', 'failed', 'timed_out')
`

const queryInsertRunStep = `
INSERT INTO run_steps (id, run_id, step, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryInsertReportAttempt = `
INSERT INTO report_attempts (id, run_id, attempt, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListRuns = `
SELECT id, job_id, project_id, trigger, scheduled_at, fired_at, status, exit_code, error, created_at, finished_at
FROM runs
WHERE job_id = $1
ORDER BY scheduled_at DESC
LIMIT $2 OFFSET $3
`

const queryGetStaleRuns = `
SELECT id, job_id, project_id, trigger, scheduled_at, fired_at, status, exit_code, error, created_at, finished_at
FROM runs
WHERE status NOT IN ('succeeded', 'failed', 'timed_out')
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryDeleteJob = `
WITH deleted_attempts AS (
    DELETE FROM report_attempts
    WHERE run_id IN (SELECT id FROM runs WHERE job_id = $1)
),
deleted_steps AS (
    DELETE FROM run_steps
    WHERE run_id IN (SELECT id FROM runs WHERE job_id = $1)
),
deleted_runs AS (
    DELETE FROM runs WHERE job_id = $1
)
DELETE FROM jobs WHERE id = $1 AND project_id = $2
RETURNING id`
