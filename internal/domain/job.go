package domain

import (
	"time"

	"github.com/google/uuid"
)

type Job struct {
	ID        uuid.UUID
	ProjectID uuid.UUID

	Name    string
	Enabled bool

	Schedule    ScheduleSpec
	Environment EnvironmentSpec
	SecretNames []string
	Task        TaskSpec

	// Timeout bounds one run end to end. Zero means the server default.
	Timeout time.Duration

	Report    ReportConfig
	Analytics AnalyticsConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}
