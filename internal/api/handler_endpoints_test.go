package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/scheduler"
	"github.com/djlord-it/jobrun/internal/testutil"
)

// mockHandlerStore implements api.Store for handler tests.
type mockHandlerStore struct {
	mu sync.Mutex

	createJobFn  func(ctx context.Context, job domain.Job) error
	getJobByIDFn func(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	listJobsFn   func(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Job, error)
	listRunsFn   func(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Run, error)
	deleteJobFn  func(ctx context.Context, jobID, projectID uuid.UUID) error
}

func (s *mockHandlerStore) CreateJob(ctx context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createJobFn != nil {
		return s.createJobFn(ctx, job)
	}
	return nil
}

func (s *mockHandlerStore) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getJobByIDFn != nil {
		return s.getJobByIDFn(ctx, jobID)
	}
	return domain.Job{}, sql.ErrNoRows
}

func (s *mockHandlerStore) ListJobs(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listJobsFn != nil {
		return s.listJobsFn(ctx, projectID, limit, offset)
	}
	return nil, nil
}

func (s *mockHandlerStore) ListRuns(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listRunsFn != nil {
		return s.listRunsFn(ctx, jobID, limit, offset)
	}
	return nil, nil
}

func (s *mockHandlerStore) DeleteJob(ctx context.Context, jobID, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteJobFn != nil {
		return s.deleteJobFn(ctx, jobID, projectID)
	}
	return nil
}

// mockDispatcher implements Dispatcher for handler tests.
type mockDispatcher struct {
	mu         sync.Mutex
	dispatchFn func(ctx context.Context, job domain.Job) (domain.Run, error)
	dispatched []domain.Job
}

func (d *mockDispatcher) DispatchManual(ctx context.Context, job domain.Job) (domain.Run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, job)
	if d.dispatchFn != nil {
		return d.dispatchFn(ctx, job)
	}
	return domain.Run{
		ID:          uuid.New(),
		JobID:       job.ID,
		Trigger:     domain.TriggerManual,
		Status:      domain.RunStatusTriggered,
		ScheduledAt: time.Now().UTC(),
	}, nil
}

// mockHealthChecker implements HealthChecker for handler tests.
type mockHealthChecker struct {
	mu     sync.Mutex
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func newTestHandler(store *mockHandlerStore, dispatcher *mockDispatcher) *Handler {
	return NewHandler(store, dispatcher, testutil.MustParseUUID("00000000-0000-0000-0000-000000000001"))
}

// --- CreateJob Tests ---

func TestHandler_CreateJob_Success(t *testing.T) {
	store := &mockHandlerStore{}
	handler := newTestHandler(store, &mockDispatcher{})

	body := `{
		"name": "nightly-report",
		"schedule": {"cron_expression": "0 2 * * *", "timezone": "UTC", "allow_manual": true},
		"environment": {"interpreter": "python", "interpreter_version": "3.11", "manifest": "requests==2.31.0"},
		"secrets": ["DB_PASSWORD"],
		"script": "print('hi')",
		"report": {"webhook_url": "https://example.com/webhook"}
	}`

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Name != "nightly-report" {
		t.Errorf("Name = %q, want nightly-report", resp.Name)
	}
	if !resp.Enabled {
		t.Error("Enabled should be true")
	}
	if resp.CronExpression != "0 2 * * *" {
		t.Errorf("CronExpression = %q, want '0 2 * * *'", resp.CronExpression)
	}
	if !resp.AllowManual {
		t.Error("AllowManual should be true")
	}
	if resp.WebhookURL != "https://example.com/webhook" {
		t.Errorf("WebhookURL = %q", resp.WebhookURL)
	}
}

func TestHandler_CreateJob_StoresReportTimeout(t *testing.T) {
	var created domain.Job
	store := &mockHandlerStore{
		createJobFn: func(ctx context.Context, job domain.Job) error {
			created = job
			return nil
		},
	}
	handler := newTestHandler(store, &mockDispatcher{})

	body := `{
		"name": "j",
		"schedule": {"allow_manual": true},
		"script": "echo hi",
		"report": {"webhook_url": "https://example.com/hook", "timeout_seconds": 10}
	}`

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if created.Report.Timeout != 10*time.Second {
		t.Errorf("Report.Timeout = %v, want 10s", created.Report.Timeout)
	}
	if created.Report.Type != domain.ReportTypeWebhook {
		t.Errorf("Report.Type = %q", created.Report.Type)
	}
}

func TestHandler_CreateJob_InvalidJSON(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandler_CreateJob_ValidationError(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	// No cron expression, no manual dispatch.
	body := `{"name": "dead", "script": "echo hi"}`

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_CreateJob_StoreError(t *testing.T) {
	store := &mockHandlerStore{
		createJobFn: func(ctx context.Context, job domain.Job) error {
			return errors.New("db down")
		},
	}
	handler := newTestHandler(store, &mockDispatcher{})

	body := `{"name": "j", "schedule": {"allow_manual": true}, "script": "echo hi"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

// --- Dispatch Tests ---

func TestHandler_Dispatch_Accepted(t *testing.T) {
	jobID := uuid.New()
	job := domain.Job{
		ID:       jobID,
		Name:     "adhoc",
		Enabled:  true,
		Schedule: domain.ScheduleSpec{AllowManual: true},
	}
	store := &mockHandlerStore{
		getJobByIDFn: func(ctx context.Context, id uuid.UUID) (domain.Job, error) {
			if id != jobID {
				return domain.Job{}, sql.ErrNoRows
			}
			return job, nil
		},
	}
	dispatcher := &mockDispatcher{}
	handler := newTestHandler(store, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/dispatch", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp DispatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.JobID != jobID.String() {
		t.Errorf("JobID = %q, want %q", resp.JobID, jobID)
	}
	if resp.Status != string(domain.RunStatusTriggered) {
		t.Errorf("Status = %q, want triggered", resp.Status)
	}
	if resp.RunID == "" {
		t.Error("RunID should be set")
	}

	if len(dispatcher.dispatched) != 1 {
		t.Errorf("expected 1 dispatch, got %d", len(dispatcher.dispatched))
	}
}

func TestHandler_Dispatch_ManualDisabled(t *testing.T) {
	jobID := uuid.New()
	store := &mockHandlerStore{
		getJobByIDFn: func(ctx context.Context, id uuid.UUID) (domain.Job, error) {
			return domain.Job{ID: jobID, Enabled: true}, nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, job domain.Job) (domain.Run, error) {
			return domain.Run{}, scheduler.ErrManualDisabled
		},
	}
	handler := newTestHandler(store, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/dispatch", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_Dispatch_JobNotFound(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+uuid.NewString()+"/dispatch", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandler_Dispatch_InvalidJobID(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/not-a-uuid/dispatch", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandler_Dispatch_DuplicateRun(t *testing.T) {
	jobID := uuid.New()
	store := &mockHandlerStore{
		getJobByIDFn: func(ctx context.Context, id uuid.UUID) (domain.Job, error) {
			return domain.Job{ID: jobID, Enabled: true, Schedule: domain.ScheduleSpec{AllowManual: true}}, nil
		},
	}
	dispatcher := &mockDispatcher{
		dispatchFn: func(ctx context.Context, job domain.Job) (domain.Run, error) {
			return domain.Run{}, scheduler.ErrDuplicateRun
		},
	}
	handler := newTestHandler(store, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String()+"/dispatch", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// --- ListRuns Tests ---

func TestHandler_ListRuns(t *testing.T) {
	jobID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	runs := []domain.Run{
		{
			ID:          uuid.New(),
			JobID:       jobID,
			Trigger:     domain.TriggerSchedule,
			Status:      domain.RunStatusSucceeded,
			ScheduledAt: now.Add(-time.Hour),
			FiredAt:     now.Add(-time.Hour),
			FinishedAt:  now.Add(-59 * time.Minute),
			CreatedAt:   now.Add(-time.Hour),
		},
		{
			ID:          uuid.New(),
			JobID:       jobID,
			Trigger:     domain.TriggerManual,
			Status:      domain.RunStatusFailed,
			ExitCode:    3,
			Error:       "task exited with status 3",
			ScheduledAt: now,
			FiredAt:     now,
			CreatedAt:   now,
		},
	}
	store := &mockHandlerStore{
		listRunsFn: func(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Run, error) {
			return runs, nil
		},
	}
	handler := newTestHandler(store, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID.String()+"/runs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(resp.Runs))
	}
	if resp.Runs[0].Status != "succeeded" {
		t.Errorf("Runs[0].Status = %q", resp.Runs[0].Status)
	}
	if resp.Runs[0].FinishedAt == "" {
		t.Error("terminal run should have finished_at")
	}
	if resp.Runs[1].ExitCode != 3 {
		t.Errorf("Runs[1].ExitCode = %d, want 3", resp.Runs[1].ExitCode)
	}
	if resp.Runs[1].FinishedAt != "" {
		t.Errorf("non-terminal run should omit finished_at, got %q", resp.Runs[1].FinishedAt)
	}
}

func TestHandler_ListRuns_InvalidPagination(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString()+"/runs?limit=9999", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- ListJobs Tests ---

func TestHandler_ListJobs(t *testing.T) {
	store := &mockHandlerStore{
		listJobsFn: func(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Job, error) {
			return []domain.Job{
				{ID: uuid.New(), ProjectID: projectID, Name: "a", Enabled: true},
				{ID: uuid.New(), ProjectID: projectID, Name: "b", Enabled: false},
			}, nil
		},
	}
	handler := newTestHandler(store, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(resp.Jobs))
	}
	if resp.Jobs[1].Enabled {
		t.Error("Jobs[1].Enabled should be false")
	}
}

// --- DeleteJob Tests ---

func TestHandler_DeleteJob_Success(t *testing.T) {
	jobID := uuid.New()
	var deleted uuid.UUID
	store := &mockHandlerStore{
		deleteJobFn: func(ctx context.Context, id, projectID uuid.UUID) error {
			deleted = id
			return nil
		},
	}
	handler := newTestHandler(store, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID.String(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if deleted != jobID {
		t.Errorf("deleted id = %s, want %s", deleted, jobID)
	}
}

func TestHandler_DeleteJob_NotFound(t *testing.T) {
	store := &mockHandlerStore{
		deleteJobFn: func(ctx context.Context, id, projectID uuid.UUID) error {
			return sql.ErrNoRows
		},
	}
	handler := newTestHandler(store, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Health Tests ---

func TestHandler_Health_Simple(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.Components != nil {
		t.Error("simple health should not include components")
	}
}

func TestHandler_Health_VerboseHealthy(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{}).
		WithHealthChecker(&mockHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Components["database"] != "healthy" {
		t.Errorf("database component = %q, want healthy", resp.Components["database"])
	}
}

func TestHandler_Health_VerboseDegraded(t *testing.T) {
	checker := &mockHealthChecker{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{}).WithHealthChecker(checker)

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
}

// --- Routing Tests ---

func TestHandler_UnknownRoute(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}, &mockDispatcher{})

	req := httptest.NewRequest(http.MethodPut, "/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
