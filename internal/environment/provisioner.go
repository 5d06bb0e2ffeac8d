package environment

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/djlord-it/jobrun/internal/domain"
)

// versionProbeTimeout bounds the interpreter --version check.
const versionProbeTimeout = 10 * time.Second

// ProcessProvisioner materializes environments as scratch directories on
// the local host, resolving interpreters from PATH.
type ProcessProvisioner struct {
	// Root is the parent directory for run workspaces. Empty = os.TempDir().
	Root string
}

func NewProcessProvisioner(root string) *ProcessProvisioner {
	return &ProcessProvisioner{Root: root}
}

// Provision creates a fresh working directory and resolves the interpreter
// named by the spec. When a version constraint is set, a version-suffixed
// binary (python3 + "3.11" -> python3.11) is preferred; otherwise the bare
// binary is probed with --version and must report the constrained version.
func (p *ProcessProvisioner) Provision(ctx context.Context, spec domain.EnvironmentSpec) (*Environment, error) {
	if spec.Platform != "" && spec.Platform != runtime.GOOS {
		return nil, &ProvisionError{
			Reason: fmt.Sprintf("platform %q unavailable (host is %s)", spec.Platform, runtime.GOOS),
		}
	}

	if spec.Interpreter == "" {
		return nil, &ProvisionError{Reason: "no interpreter specified"}
	}

	interpreter, err := p.resolveInterpreter(ctx, spec)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(p.Root, "jobrun-")
	if err != nil {
		return nil, &ProvisionError{Reason: "create workspace", Err: err}
	}

	log.Printf("environment: provisioned dir=%s interpreter=%s", dir, interpreter)
	return &Environment{Dir: dir, InterpreterPath: interpreter}, nil
}

func (p *ProcessProvisioner) resolveInterpreter(ctx context.Context, spec domain.EnvironmentSpec) (string, error) {
	if spec.InterpreterVersion != "" {
		// python3 + 3.11 -> python3.11; python + 3.11 -> python3.11
		suffixed := strings.TrimRight(spec.Interpreter, "0123456789.") + spec.InterpreterVersion
		if path, err := exec.LookPath(suffixed); err == nil {
			return path, nil
		}
	}

	path, err := exec.LookPath(spec.Interpreter)
	if err != nil {
		return "", &ProvisionError{
			Reason: fmt.Sprintf("interpreter %q not found", spec.Interpreter),
			Err:    err,
		}
	}

	if spec.InterpreterVersion != "" {
		if err := probeVersion(ctx, path, spec.InterpreterVersion); err != nil {
			return "", err
		}
	}

	return path, nil
}

// probeVersion runs `interpreter --version` and checks that the constraint
// appears in the output. The constraint must resolve to exactly one
// installed interpreter; a mismatch is a provisioning failure, not a warning.
func probeVersion(ctx context.Context, path, constraint string) error {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, path, "--version").CombinedOutput()
	if err != nil {
		return &ProvisionError{
			Reason: fmt.Sprintf("probe %s --version", path),
			Err:    err,
		}
	}

	if !strings.Contains(string(out), constraint) {
		return &ProvisionError{
			Reason: fmt.Sprintf("interpreter %s reports %q, want version %s",
				path, strings.TrimSpace(string(out)), constraint),
		}
	}
	return nil
}
