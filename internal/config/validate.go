package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
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

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// TICK_INTERVAL must be a valid duration
	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// RUN_TIMEOUT must be a valid positive duration
	if cfg.RunTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.RunTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "RUN_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "RUN_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	// SECRET_SOURCE must be "env" or "file"
	if cfg.SecretSource != "" && cfg.SecretSource != "env" && cfg.SecretSource != "file" {
		errs = append(errs, ValidationError{
			Field:   "SECRET_SOURCE",
			Message: fmt.Sprintf("must be 'env' or 'file', got %q", cfg.SecretSource),
		})
	}

	// SECRET_FILE is required when resolving from a file
	if cfg.SecretSource == "file" && cfg.SecretFile == "" {
		errs = append(errs, ValidationError{
			Field:   "SECRET_FILE",
			Message: "required when SECRET_SOURCE is 'file'",
		})
	}

	// Reconciler threshold shorter than the run timeout would settle runs
	// that are still inside their deadline.
	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.RunTimeout > 0 &&
		cfg.ReconcileThreshold <= cfg.RunTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: fmt.Sprintf("must exceed RUN_TIMEOUT (%s)", cfg.RunTimeoutStr),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
