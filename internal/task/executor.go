// Package task executes a job's script inside its provisioned environment
// and maps the exit status to a run outcome. The script's internals are
// opaque: only the exit status matters.
package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/environment"
)

// outputTailSize bounds how much task output is retained for logging.
const outputTailSize = 4096

// Executor runs task scripts as child processes.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes the task to completion or to the deadline carried by ctx.
//
// The child sees a minimal base environment (PATH, HOME, LANG), anything
// dependency installation added, and the secret bindings - nothing else
// from the runner's own environment leaks through. A deadline hit yields
// a timed_out outcome; a non-zero exit yields failed with that exit code.
// An error is returned only when the task could not be started at all.
func (e *Executor) Run(ctx context.Context, env *environment.Environment, spec domain.TaskSpec, bindings []domain.SecretBinding) (domain.Outcome, error) {
	if spec.Script == "" {
		return domain.Outcome{}, errors.New("task: no script configured")
	}

	cmd := exec.CommandContext(ctx, env.InterpreterPath, spec.Script)
	cmd.Dir = env.Dir
	cmd.Env = buildEnv(env, bindings)

	tail := &tailWriter{limit: outputTailSize}
	cmd.Stdout = tail
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return domain.Outcome{}, fmt.Errorf("task: start %s: %w", spec.Script, err)
	}

	err := cmd.Wait()

	// The deadline takes precedence: a killed process also reports a
	// non-zero exit, but the run outcome must be timed_out.
	if ctx.Err() == context.DeadlineExceeded {
		log.Printf("task: script=%s timed out", spec.Script)
		return domain.Outcome{Status: domain.RunStatusTimedOut}, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			log.Printf("task: script=%s exited with code %d, output tail:\n%s", spec.Script, code, tail.String())
			return domain.Outcome{Status: domain.RunStatusFailed, ExitCode: code}, nil
		}
		return domain.Outcome{}, fmt.Errorf("task: wait %s: %w", spec.Script, err)
	}

	return domain.Outcome{Status: domain.RunStatusSucceeded}, nil
}

// buildEnv assembles the child process environment: minimal base, installer
// additions, then secret bindings. Bindings come last so a secret name
// always wins.
func buildEnv(env *environment.Environment, bindings []domain.SecretBinding) []string {
	var out []string
	for _, key := range []string{"PATH", "HOME", "LANG"} {
		if v, ok := os.LookupEnv(key); ok {
			out = append(out, key+"="+v)
		}
	}
	out = append(out, "TMPDIR="+env.Dir)
	out = append(out, env.ExtraEnv...)
	for _, b := range bindings {
		out = append(out, b.Name+"="+b.Value)
	}
	return out
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
