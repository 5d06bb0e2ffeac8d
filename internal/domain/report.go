package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReportType string

const (
	ReportTypeWebhook ReportType = "webhook"
)

// ReportConfig describes where run outcomes are reported.
type ReportConfig struct {
	Type       ReportType
	WebhookURL string
	Secret     string // HMAC secret
	Timeout    time.Duration
}

// ReportAttempt records one attempt to deliver a run outcome report.
type ReportAttempt struct {
	ID    uuid.UUID
	RunID uuid.UUID

	Attempt    int
	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}
