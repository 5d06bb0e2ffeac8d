package api

import "time"

type CreateJobRequest struct {
	Name string `json:"name"`

	Schedule struct {
		CronExpression string `json:"cron_expression,omitempty"`
		Timezone       string `json:"timezone,omitempty"`
		AllowManual    bool   `json:"allow_manual,omitempty"`
	} `json:"schedule"`

	Environment struct {
		Platform           string `json:"platform,omitempty"`
		Interpreter        string `json:"interpreter,omitempty"`
		InterpreterVersion string `json:"interpreter_version,omitempty"`
		Manifest           string `json:"manifest,omitempty"`
	} `json:"environment"`

	Secrets []string `json:"secrets,omitempty"`

	Script string `json:"script"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"` // 0 = server default

	Report *ReportRequest `json:"report,omitempty"`

	Analytics *AnalyticsRequest `json:"analytics,omitempty"`
}

type ReportRequest struct {
	WebhookURL     string `json:"webhook_url"`
	Secret         string `json:"secret,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // default 30
}

// AnalyticsRequest enables per-job analytics.
// Presence of this object enables analytics; omit to disable.
type AnalyticsRequest struct {
	RetentionSeconds int `json:"retention_seconds,omitempty"` // default 86400 (24h)
}

type JobResponse struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	CronExpression string   `json:"cron_expression,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	AllowManual    bool     `json:"allow_manual"`
	Interpreter    string   `json:"interpreter,omitempty"`
	Secrets        []string `json:"secrets,omitempty"`
	WebhookURL     string   `json:"webhook_url,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

type RunResponse struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	Trigger     string `json:"trigger"`
	Status      string `json:"status"`
	ExitCode    int    `json:"exit_code,omitempty"`
	Error       string `json:"error,omitempty"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// DispatchResponse acknowledges a manual dispatch. The run executes
// asynchronously; poll /jobs/{id}/runs for its outcome.
type DispatchResponse struct {
	RunID       string `json:"run_id"`
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
