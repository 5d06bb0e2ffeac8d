package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	ListJobs(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Job, error)
	ListRuns(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Run, error)
	DeleteJob(ctx context.Context, jobID, projectID uuid.UUID) error
}

// Dispatcher starts a manual run for a job.
type Dispatcher interface {
	DispatchManual(ctx context.Context, job domain.Job) (domain.Run, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store      Store
	dispatcher Dispatcher
	projectID  uuid.UUID // single-tenant for now
	db         HealthChecker
}

func NewHandler(store Store, dispatcher Dispatcher, projectID uuid.UUID) *Handler {
	return &Handler{store: store, dispatcher: dispatcher, projectID: projectID}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasSuffix(path, "/dispatch") && r.Method == http.MethodPost:
		h.dispatchJob(w, r)

	case strings.HasSuffix(path, "/runs") && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodDelete:
		h.deleteJob(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()

	job := domain.Job{
		ID:        uuid.New(),
		ProjectID: h.projectID,
		Name:      req.Name,
		Enabled:   true,
		Schedule: domain.ScheduleSpec{
			CronExpression: req.Schedule.CronExpression,
			Timezone:       req.Schedule.Timezone,
			AllowManual:    req.Schedule.AllowManual,
		},
		Environment: domain.EnvironmentSpec{
			Platform:           req.Environment.Platform,
			Interpreter:        req.Environment.Interpreter,
			InterpreterVersion: req.Environment.InterpreterVersion,
			Manifest:           req.Environment.Manifest,
		},
		SecretNames: req.Secrets,
		Task:        domain.TaskSpec{Script: req.Script},
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
		Analytics:   parseAnalyticsConfig(req.Analytics),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.Report != nil {
		timeout := 30 * time.Second
		if req.Report.TimeoutSeconds > 0 {
			timeout = time.Duration(req.Report.TimeoutSeconds) * time.Second
		}
		job.Report = domain.ReportConfig{
			Type:       domain.ReportTypeWebhook,
			WebhookURL: req.Report.WebhookURL,
			Secret:     req.Report.Secret,
			Timeout:    timeout,
		}
	}

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		log.Printf("api: create job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, jobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), h.projectID, limit, offset)
	if err != nil {
		log.Printf("api: list jobs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = jobResponse(job)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) dispatchJob(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /jobs/{id}/dispatch
	jobID, ok := jobIDFromPath(r.URL.Path, "dispatch")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.store.GetJobByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: dispatch get job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	}

	run, err := h.dispatcher.DispatchManual(r.Context(), job)
	if err != nil {
		if errors.Is(err, scheduler.ErrManualDisabled) {
			writeError(w, http.StatusConflict, "manual dispatch disabled for this job")
			return
		}
		if errors.Is(err, scheduler.ErrDuplicateRun) {
			writeError(w, http.StatusConflict, "a run for this job is already triggered at this time")
			return
		}
		log.Printf("api: dispatch error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	}

	writeJSON(w, http.StatusAccepted, DispatchResponse{
		RunID:       run.ID.String(),
		JobID:       run.JobID.String(),
		Status:      string(run.Status),
		ScheduledAt: formatTime(run.ScheduledAt),
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /jobs/{id}/runs
	jobID, ok := jobIDFromPath(r.URL.Path, "runs")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), id, limit, offset)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /jobs/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "jobs" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.store.DeleteJob(r.Context(), jobID, h.projectID); err != nil {
		log.Printf("api: delete job error: %v", err)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func jobResponse(job domain.Job) JobResponse {
	return JobResponse{
		ID:             job.ID.String(),
		ProjectID:      job.ProjectID.String(),
		Name:           job.Name,
		Enabled:        job.Enabled,
		CronExpression: job.Schedule.CronExpression,
		Timezone:       job.Schedule.Timezone,
		AllowManual:    job.Schedule.AllowManual,
		Interpreter:    job.Environment.Interpreter,
		Secrets:        job.SecretNames,
		WebhookURL:     job.Report.WebhookURL,
		CreatedAt:      formatTime(job.CreatedAt),
	}
}

func runResponse(run domain.Run) RunResponse {
	resp := RunResponse{
		ID:          run.ID.String(),
		JobID:       run.JobID.String(),
		Trigger:     string(run.Trigger),
		Status:      string(run.Status),
		ExitCode:    run.ExitCode,
		Error:       run.Error,
		ScheduledAt: formatTime(run.ScheduledAt),
		FiredAt:     formatTime(run.FiredAt),
		CreatedAt:   formatTime(run.CreatedAt),
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = formatTime(run.FinishedAt)
	}
	return resp
}

// jobIDFromPath extracts the id segment from /jobs/{id}/<leaf>.
func jobIDFromPath(path, leaf string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "jobs" || parts[2] != leaf {
		return "", false
	}
	return parts[1], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseAnalyticsConfig converts a validated AnalyticsRequest to domain config.
// If analytics is nil, returns a disabled config.
func parseAnalyticsConfig(a *AnalyticsRequest) domain.AnalyticsConfig {
	if a == nil {
		return domain.AnalyticsConfig{}
	}
	return domain.AnalyticsConfig{
		Enabled:          true,
		RetentionSeconds: a.RetentionSeconds,
	}
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
