// Package jobspec loads job definitions from YAML files. A jobspec is the
// operator-facing way to define a job; the API accepts the same shape as
// JSON.
package jobspec

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/jobrun/internal/cron"
	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/secrets"
)

// Spec is the YAML shape of a job definition.
type Spec struct {
	Name      string `yaml:"name"`
	ProjectID string `yaml:"project_id"`
	Enabled   *bool  `yaml:"enabled"` // nil = true

	Schedule struct {
		Cron        string `yaml:"cron"`
		Timezone    string `yaml:"timezone"`
		AllowManual bool   `yaml:"allow_manual"`
	} `yaml:"schedule"`

	Environment struct {
		Platform           string `yaml:"platform"`
		Interpreter        string `yaml:"interpreter"`
		InterpreterVersion string `yaml:"interpreter_version"`
		Manifest           string `yaml:"manifest"`
	} `yaml:"environment"`

	Secrets []string `yaml:"secrets"`

	Task struct {
		Script string `yaml:"script"`
	} `yaml:"task"`

	Timeout string `yaml:"timeout"`

	Report struct {
		WebhookURL string `yaml:"webhook_url"`
		Secret     string `yaml:"secret"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"report"`

	Analytics struct {
		Enabled          bool `yaml:"enabled"`
		RetentionSeconds int  `yaml:"retention_seconds"`
	} `yaml:"analytics"`
}

// ValidationError represents a jobspec validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Load reads and parses a jobspec file into a domain job.
func Load(path string) (domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Job{}, fmt.Errorf("read jobspec: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML into a domain job and validates it.
func Parse(data []byte) (domain.Job, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return domain.Job{}, fmt.Errorf("parse jobspec: %w", err)
	}

	if err := validate(spec); err != nil {
		return domain.Job{}, err
	}

	return toJob(spec)
}

func validate(spec Spec) error {
	var errs ValidationErrors

	if spec.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "required"})
	}

	if spec.ProjectID != "" {
		if _, err := uuid.Parse(spec.ProjectID); err != nil {
			errs = append(errs, ValidationError{Field: "project_id", Message: "must be a UUID"})
		}
	}

	schedule := domain.ScheduleSpec{
		CronExpression: spec.Schedule.Cron,
		AllowManual:    spec.Schedule.AllowManual,
	}
	if !schedule.Reachable() {
		errs = append(errs, ValidationError{
			Field:   "schedule",
			Message: "needs a cron expression or allow_manual: true, otherwise the job can never run",
		})
	}

	if spec.Schedule.Cron != "" {
		tz := spec.Schedule.Timezone
		if tz == "" {
			tz = "UTC"
		}
		if _, err := cron.NewParser().Parse(spec.Schedule.Cron, tz); err != nil {
			errs = append(errs, ValidationError{
				Field:   "schedule.cron",
				Message: err.Error(),
			})
		}
	}

	for _, name := range spec.Secrets {
		if !secrets.ValidName(name) {
			errs = append(errs, ValidationError{
				Field:   "secrets",
				Message: fmt.Sprintf("invalid secret name %q", name),
			})
		}
	}

	if spec.Task.Script == "" {
		errs = append(errs, ValidationError{Field: "task.script", Message: "required"})
	}

	if spec.Timeout != "" {
		if d, err := time.ParseDuration(spec.Timeout); err != nil {
			errs = append(errs, ValidationError{Field: "timeout", Message: fmt.Sprintf("invalid duration: %v", err)})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: "timeout", Message: "must be positive"})
		}
	}

	if spec.Report.Timeout != "" {
		if _, err := time.ParseDuration(spec.Report.Timeout); err != nil {
			errs = append(errs, ValidationError{Field: "report.timeout", Message: fmt.Sprintf("invalid duration: %v", err)})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func toJob(spec Spec) (domain.Job, error) {
	now := time.Now().UTC()

	job := domain.Job{
		ID:      uuid.New(),
		Name:    spec.Name,
		Enabled: true,
		Schedule: domain.ScheduleSpec{
			CronExpression: spec.Schedule.Cron,
			Timezone:       spec.Schedule.Timezone,
			AllowManual:    spec.Schedule.AllowManual,
		},
		Environment: domain.EnvironmentSpec{
			Platform:           spec.Environment.Platform,
			Interpreter:        spec.Environment.Interpreter,
			InterpreterVersion: spec.Environment.InterpreterVersion,
			Manifest:           spec.Environment.Manifest,
		},
		SecretNames: spec.Secrets,
		Task:        domain.TaskSpec{Script: spec.Task.Script},
		Analytics: domain.AnalyticsConfig{
			Enabled:          spec.Analytics.Enabled,
			RetentionSeconds: spec.Analytics.RetentionSeconds,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if spec.Enabled != nil {
		job.Enabled = *spec.Enabled
	}

	if spec.ProjectID != "" {
		id, err := uuid.Parse(spec.ProjectID)
		if err != nil {
			return domain.Job{}, fmt.Errorf("parse project_id: %w", err)
		}
		job.ProjectID = id
	} else {
		job.ProjectID = uuid.New()
	}

	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return domain.Job{}, fmt.Errorf("parse timeout: %w", err)
		}
		job.Timeout = d
	}

	if spec.Report.WebhookURL != "" {
		job.Report = domain.ReportConfig{
			Type:       domain.ReportTypeWebhook,
			WebhookURL: spec.Report.WebhookURL,
			Secret:     spec.Report.Secret,
		}
		if spec.Report.Timeout != "" {
			d, err := time.ParseDuration(spec.Report.Timeout)
			if err != nil {
				return domain.Job{}, fmt.Errorf("parse report.timeout: %w", err)
			}
			job.Report.Timeout = d
		}
	}

	return job, nil
}
