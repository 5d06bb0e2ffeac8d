package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is emitted when a job fires, by schedule or by manual dispatch.
type TriggerEvent struct {
	RunID     uuid.UUID
	JobID     uuid.UUID
	ProjectID uuid.UUID

	Trigger        Trigger
	ScheduledAt    time.Time // intended fire time (UTC)
	FiredAt        time.Time // actual emission time
	IdempotencyKey string

	CreatedAt time.Time
}
