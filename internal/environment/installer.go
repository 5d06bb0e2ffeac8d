package environment

import (
	"context"
	"log"
	"os/exec"
	"path/filepath"

	"github.com/djlord-it/jobrun/internal/domain"
)

// PipInstaller installs a requirements manifest into the environment using
// the resolved interpreter's pip, targeting a directory private to the run.
// Installing from a clean environment is idempotent by construction.
type PipInstaller struct{}

func NewPipInstaller() *PipInstaller {
	return &PipInstaller{}
}

// Install installs the manifest declared by the spec into env. A spec with
// no manifest is a no-op. On success the environment gains a PYTHONPATH
// entry pointing at the installed packages.
func (i *PipInstaller) Install(ctx context.Context, env *Environment, spec domain.EnvironmentSpec) error {
	if spec.Manifest == "" {
		return nil
	}

	target := filepath.Join(env.Dir, "deps")

	cmd := exec.CommandContext(ctx, env.InterpreterPath,
		"-m", "pip", "install",
		"--disable-pip-version-check",
		"--no-input",
		"--target", target,
		"-r", spec.Manifest,
	)
	cmd.Dir = env.Dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("environment: pip install failed: %s", tail(out, 2048))
		return &DependencyError{Manifest: spec.Manifest, Err: err}
	}

	env.ExtraEnv = append(env.ExtraEnv, "PYTHONPATH="+target)
	log.Printf("environment: installed manifest=%s target=%s", spec.Manifest, target)
	return nil
}

// tail returns the last n bytes of b as a string.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
