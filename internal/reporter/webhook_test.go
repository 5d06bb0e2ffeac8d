package reporter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPWebhookSender_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender()
	result := sender.Send(context.Background(), WebhookRequest{
		URL:       server.URL,
		Secret:    "test-secret",
		Timeout:   5 * time.Second,
		AttemptID: "attempt-1",
		Payload: WebhookPayload{
			JobID:       "job-1",
			RunID:       "run-1",
			Status:      "succeeded",
			ScheduledAt: "2024-01-15T10:00:00Z",
			FiredAt:     "2024-01-15T10:00:30Z",
		},
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
	if result.Duration <= 0 {
		t.Error("duration should be positive")
	}
}

func TestHTTPWebhookSender_RequestHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender()
	sender.Send(context.Background(), WebhookRequest{
		URL:       server.URL,
		Secret:    "my-secret",
		Timeout:   5 * time.Second,
		AttemptID: "attempt-123",
		Payload: WebhookPayload{
			JobID:       "job-1",
			RunID:       "run-456",
			Status:      "failed",
			ScheduledAt: "2024-01-15T10:00:00Z",
			FiredAt:     "2024-01-15T10:00:30Z",
		},
	})

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if id := gotHeaders.Get("X-JobRun-Attempt-ID"); id != "attempt-123" {
		t.Errorf("X-JobRun-Attempt-ID = %q, want attempt-123", id)
	}
	if id := gotHeaders.Get("X-JobRun-Run-ID"); id != "run-456" {
		t.Errorf("X-JobRun-Run-ID = %q, want run-456", id)
	}
	if sig := gotHeaders.Get("X-JobRun-Signature"); sig == "" {
		t.Error("X-JobRun-Signature should not be empty")
	}
}

func TestHTTPWebhookSender_PayloadBody(t *testing.T) {
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender()
	sender.Send(context.Background(), WebhookRequest{
		URL:     server.URL,
		Secret:  "secret",
		Timeout: 5 * time.Second,
		Payload: WebhookPayload{
			JobID:       "job-abc",
			RunID:       "run-def",
			Status:      "failed",
			ExitCode:    3,
			ScheduledAt: "2024-01-15T10:00:00Z",
			FiredAt:     "2024-01-15T10:00:30Z",
			FinishedAt:  "2024-01-15T10:05:00Z",
		},
	})

	var payload WebhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}

	if payload.JobID != "job-abc" {
		t.Errorf("JobID = %q, want job-abc", payload.JobID)
	}
	if payload.RunID != "run-def" {
		t.Errorf("RunID = %q, want run-def", payload.RunID)
	}
	if payload.Status != "failed" {
		t.Errorf("Status = %q, want failed", payload.Status)
	}
	if payload.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", payload.ExitCode)
	}
	if payload.FinishedAt != "2024-01-15T10:05:00Z" {
		t.Errorf("FinishedAt = %q, want 2024-01-15T10:05:00Z", payload.FinishedAt)
	}
}

func TestHTTPWebhookSender_SignatureCorrect(t *testing.T) {
	var gotSignature string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-JobRun-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "my-webhook-secret"

	sender := NewHTTPWebhookSender()
	sender.Send(context.Background(), WebhookRequest{
		URL:     server.URL,
		Secret:  secret,
		Timeout: 5 * time.Second,
		Payload: WebhookPayload{
			JobID:       "job-1",
			RunID:       "run-1",
			Status:      "succeeded",
			ScheduledAt: "2024-01-15T10:00:00Z",
			FiredAt:     "2024-01-15T10:00:30Z",
		},
	})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	if gotSignature != expectedSig {
		t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", gotSignature, expectedSig)
	}
}

func TestHTTPWebhookSender_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender()
	result := sender.Send(context.Background(), WebhookRequest{
		URL:     server.URL,
		Secret:  "secret",
		Timeout: 5 * time.Second,
		Payload: WebhookPayload{JobID: "j", RunID: "r"},
	})

	if result.Error != nil {
		t.Errorf("server error should not set Error field, got: %v", result.Error)
	}
	if result.StatusCode != 500 {
		t.Errorf("expected status 500, got %d", result.StatusCode)
	}
}

func TestHTTPWebhookSender_ConnectionError(t *testing.T) {
	sender := NewHTTPWebhookSender()
	result := sender.Send(context.Background(), WebhookRequest{
		URL:     "http://localhost:1", // unlikely to be listening
		Secret:  "secret",
		Timeout: 1 * time.Second,
		Payload: WebhookPayload{JobID: "j", RunID: "r"},
	})

	if result.Error == nil {
		t.Error("expected connection error, got nil")
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"job_id":"j1","run_id":"r1"}`)

	sig := computeSignature(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Error("VerifySignature should return true for valid signature")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"job_id":"j1"}`)
	sig := computeSignature("correct-secret", body)

	if VerifySignature("wrong-secret", body, sig) {
		t.Error("VerifySignature should return false for wrong secret")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "test-secret"
	originalBody := []byte(`{"job_id":"j1"}`)
	sig := computeSignature(secret, originalBody)

	tamperedBody := []byte(`{"job_id":"j2"}`)
	if VerifySignature(secret, tamperedBody, sig) {
		t.Error("VerifySignature should return false for tampered body")
	}
}
