package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusTriggered      RunStatus = "triggered"
	RunStatusProvisioning   RunStatus = "provisioning"
	RunStatusInstallingDeps RunStatus = "installing_deps"
	RunStatusBindingSecrets RunStatus = "binding_secrets"
	RunStatusExecuting      RunStatus = "executing"
	RunStatusSucceeded      RunStatus = "succeeded"
	RunStatusFailed         RunStatus = "failed"
	RunStatusTimedOut       RunStatus = "timed_out"
)

// IsTerminal reports whether the status is one of the three terminal states.
// Terminal statuses never regress.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusTimedOut:
		return true
	}
	return false
}

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Run records one end-to-end execution of a job: provision, install
// dependencies, bind secrets, execute.
type Run struct {
	ID uuid.UUID

	JobID     uuid.UUID
	ProjectID uuid.UUID

	Trigger     Trigger
	ScheduledAt time.Time
	FiredAt     time.Time

	Status   RunStatus
	ExitCode int    // meaningful only when Status is failed via task exit
	Error    string // step failure description, empty on success

	CreatedAt  time.Time
	FinishedAt time.Time // zero until the run reaches a terminal status
}

// Outcome is the terminal result of executing a task.
type Outcome struct {
	Status   RunStatus // succeeded, failed or timed_out
	ExitCode int       // task exit status when Status is failed
}

// Step names for run step records, in pipeline order.
const (
	StepProvision   = "provision"
	StepInstallDeps = "install_deps"
	StepBindSecrets = "bind_secrets"
	StepExecute     = "execute"
)

// RunStep records one pipeline step of a run, including its failure if any.
type RunStep struct {
	ID    uuid.UUID
	RunID uuid.UUID

	Step  string
	Error string

	StartedAt  time.Time
	FinishedAt time.Time
}
