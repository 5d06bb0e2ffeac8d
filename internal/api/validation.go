package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/jobrun/internal/cron"
	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/secrets"
)

func validateCreateJob(req CreateJobRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}

	schedule := domain.ScheduleSpec{
		CronExpression: req.Schedule.CronExpression,
		AllowManual:    req.Schedule.AllowManual,
	}
	if !schedule.Reachable() {
		return fmt.Errorf("schedule.cron_expression or schedule.allow_manual is required")
	}

	if req.Schedule.CronExpression != "" {
		tz := req.Schedule.Timezone
		if tz == "" {
			tz = "UTC"
		}
		if err := validateCron(req.Schedule.CronExpression, tz); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}

	for _, name := range req.Secrets {
		if !secrets.ValidName(name) {
			return fmt.Errorf("invalid secret name %q", name)
		}
	}

	if req.Script == "" {
		return fmt.Errorf("script is required")
	}

	if req.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}

	if req.Report != nil {
		if req.Report.WebhookURL == "" {
			return fmt.Errorf("report.webhook_url is required")
		}
		if err := validateWebhookURL(req.Report.WebhookURL); err != nil {
			return fmt.Errorf("invalid report.webhook_url: %w", err)
		}
	}

	return nil
}

func validateCron(expr, tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q", tz)
	}
	_, err := cron.NewParser().Parse(expr, tz)
	return err
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
