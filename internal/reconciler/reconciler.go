// Package reconciler settles stale runs.
//
// A run is stale when it is still in a non-terminal status long after it
// was created (e.g. the process crashed mid-run or the event never left
// the bus buffer). A task runs at most once per triggered run, so stale
// runs are never re-executed; the reconciler marks them failed and the
// next trigger produces a fresh run.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/runner"
)

// SafetyMargin pads the default staleness threshold past the default run
// timeout, so a run that is merely slow is never settled while its
// deadline is still live.
const SafetyMargin = 15 * time.Minute

// Store defines the interface for fetching and settling stale runs.
type Store interface {
	GetStaleRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Run, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, exitCode int, runErr string, finishedAt time.Time) error
}

// MetricsSink records reconciler metrics. All methods must be non-blocking.
type MetricsSink interface {
	StaleRunsFound(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a non-terminal run is considered stale.
	// Must exceed the longest run timeout, or live runs get settled early.
	// Default: runner.DefaultRunTimeout + SafetyMargin.
	Threshold time.Duration

	// BatchSize is the maximum number of stale runs to settle per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: runner.DefaultRunTimeout + SafetyMargin,
		BatchSize: 100,
	}
}

// Reconciler detects stale runs and marks them failed.
type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stale, err := r.store.GetStaleRuns(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stale runs: %v", err)
		return
	}

	if r.metrics != nil {
		r.metrics.StaleRunsFound(len(stale))
	}

	if len(stale) == 0 {
		// Nothing to do. Silent success.
		return
	}

	log.Printf("reconciler: found %d stale runs", len(stale))

	settled := 0
	failed := 0

	for _, run := range stale {
		// Check context before each write to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d stale runs", settled+failed, len(stale))
			return
		}

		errMsg := "run abandoned in status " + string(run.Status)
		if err := r.store.CompleteRun(ctx, run.ID, domain.RunStatusFailed, 0, errMsg, now); err != nil {
			// Terminal-state guard or DB error. The guard means a racing
			// runner finished the run first; either way, continue.
			log.Printf("reconciler: failed to settle run=%s job=%s: %v", run.ID, run.JobID, err)
			failed++
			continue
		}

		log.Printf("reconciler: settled run=%s job=%s status=%s (age=%s)",
			run.ID, run.JobID, run.Status,
			now.Sub(run.CreatedAt).Round(time.Second))
		settled++
	}

	log.Printf("reconciler: cycle complete, settled=%d, failed=%d", settled, failed)
}
