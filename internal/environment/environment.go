// Package environment provides the process-backed execution environment:
// a fresh working directory per run and an interpreter resolved against
// the run's version constraint. The environment is exclusively owned by
// one run and removed when the run ends, whatever the outcome.
package environment

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Environment is a provisioned, single-run execution environment.
type Environment struct {
	// Dir is the run's private working directory. The task executes with
	// Dir as its working directory; Release removes it.
	Dir string

	// InterpreterPath is the resolved interpreter binary.
	InterpreterPath string

	// ExtraEnv holds environment entries ("KEY=VALUE") added by dependency
	// installation, e.g. the module search path for installed packages.
	ExtraEnv []string

	releaseOnce sync.Once
}

// Release removes the working directory. It is safe to call more than once
// and never fails the run: removal errors are logged and swallowed.
func (e *Environment) Release() {
	e.releaseOnce.Do(func() {
		if e.Dir == "" {
			return
		}
		if err := os.RemoveAll(e.Dir); err != nil {
			log.Printf("environment: release %s: %v", e.Dir, err)
		}
	})
}

// ProvisionError means the requested platform or interpreter is unavailable.
type ProvisionError struct {
	Reason string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision: %s: %v", e.Reason, e.Err)
	}
	return "provision: " + e.Reason
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// DependencyError means dependency installation failed.
type DependencyError struct {
	Manifest string
	Err      error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("install dependencies from %s: %v", e.Manifest, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
