package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/jobrun/internal/analytics"
	"github.com/djlord-it/jobrun/internal/api"
	"github.com/djlord-it/jobrun/internal/circuitbreaker"
	"github.com/djlord-it/jobrun/internal/config"
	"github.com/djlord-it/jobrun/internal/cron"
	"github.com/djlord-it/jobrun/internal/domain"
	"github.com/djlord-it/jobrun/internal/environment"
	"github.com/djlord-it/jobrun/internal/jobspec"
	"github.com/djlord-it/jobrun/internal/leaderelection"
	"github.com/djlord-it/jobrun/internal/metrics"
	"github.com/djlord-it/jobrun/internal/reconciler"
	"github.com/djlord-it/jobrun/internal/reporter"
	"github.com/djlord-it/jobrun/internal/runner"
	"github.com/djlord-it/jobrun/internal/scheduler"
	"github.com/djlord-it/jobrun/internal/secrets"
	"github.com/djlord-it/jobrun/internal/store/postgres"
	"github.com/djlord-it/jobrun/internal/task"
	"github.com/djlord-it/jobrun/internal/transport/channel"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{sched: sched}, nil
}

// cronScheduleAdapter adapts internal/cron.Schedule to scheduler.CronSchedule interface.
type cronScheduleAdapter struct {
	sched cron.Schedule
}

func (a *cronScheduleAdapter) Next(after time.Time) time.Time {
	return a.sched.Next(after)
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "once":
		os.Exit(runOnce(os.Args[2:]))
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`jobrun - scheduled job runner

Usage:
  jobrun <command>

Commands:
  serve [--seed f]   Start the scheduler, runner and API server; --seed loads
                     job definition files at startup (repeatable)
  once <spec.yaml>   Run a job definition once, locally, and exit with its status
  validate [files]   Validate configuration, or job definition files if given
  config             Print effective configuration as JSON (secrets masked)
  version            Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required for serve)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TICK_INTERVAL             Scheduler tick interval (default: "30s")
  RUN_TIMEOUT               Default per-run time budget (default: "30m")
  WORKDIR_ROOT              Root directory for run environments (default: os temp)

  SECRET_SOURCE             Secret backend, "env" or "file" (default: "env")
  SECRET_FILE               Secrets file path (required when SECRET_SOURCE=file)
  SECRET_ENV_PREFIX         Prefix for env-sourced secrets (optional)

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  RUNNER_DRAIN_TIMEOUT      Runner event drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Trigger event buffer size (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  CIRCUIT_BREAKER_THRESHOLD Consecutive report failures before opening (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown per endpoint (default: "2m")

  RECONCILE_ENABLED         Enable stale run reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stale runs (default: "5m")
  RECONCILE_THRESHOLD       Age before a run is considered stale (default: "45m")
  RECONCILE_BATCH_SIZE      Max stale runs per cycle (default: "100")

  LEADER_LOCK_KEY           Postgres advisory lock key (default: "917203")
  LEADER_RETRY_INTERVAL     Lock retry interval for followers (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

// logConfigWarnings flags configurations that are valid but risky in
// production.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false. Runs abandoned by a crashed instance will stay non-terminal forever. Enable the reconciler in production.")
	}
	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. No visibility into tick drift, run outcomes or report delivery.")
	}
	if cfg.TickInterval > time.Minute {
		log.Printf("WARNING [P1]: TICK_INTERVAL=%s. Fire times are evaluated per tick, so runs may start up to %s late.", cfg.TickInterval, cfg.TickInterval)
	}
	if cfg.SecretSource == "env" && cfg.SecretEnvPrefix == "" {
		log.Println("WARNING [P2]: SECRET_SOURCE=env without SECRET_ENV_PREFIX. Jobs can bind any process environment variable as a secret.")
	}
}

func runServe(args []string) int {
	seedFiles, err := parseSeedFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("jobrun: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)
	cronParser := &cronParserAdapter{parser: cron.NewParser()}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("jobrun: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("jobrun: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		store,
		cronParser,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	// Secret source per configuration
	var secretSource runner.SecretSource
	switch cfg.SecretSource {
	case "file":
		secretSource = secrets.NewFileSource(cfg.SecretFile)
		log.Printf("jobrun: secrets resolved from file %s", cfg.SecretFile)
	default:
		secretSource = secrets.NewEnvSource(cfg.SecretEnvPrefix)
		log.Println("jobrun: secrets resolved from environment")
	}

	// Outcome reporter with per-endpoint circuit breaker
	breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	rep := reporter.New(store, reporter.NewHTTPWebhookSender()).WithBreaker(breaker)
	if metricsSink != nil {
		rep = rep.WithMetrics(metricsSink)
	}

	run := runner.New(
		store,
		environment.NewProcessProvisioner(cfg.WorkdirRoot),
		environment.NewPipInstaller(),
		secretSource,
		task.NewExecutor(),
	).
		WithReporter(rep).
		WithDefaultTimeout(cfg.RunTimeout).
		WithDrainTimeout(cfg.RunnerDrainTimeout)
	if metricsSink != nil {
		run = run.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		run = run.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("jobrun: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("jobrun: REDIS_ADDR not set; analytics disabled")
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		log.Printf("jobrun: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("jobrun: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Leader election: only the leader ticks the scheduler and reconciler.
	// Every instance keeps its runner loop hot so manual dispatches and
	// buffered events are processed regardless of leadership.
	var leaderWg sync.WaitGroup
	onElected := func(leaderCtx context.Context) {
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			if err := sched.Run(leaderCtx); err != nil && leaderCtx.Err() == nil {
				log.Printf("jobrun: scheduler error: %v", err)
			}
		}()
		if recon != nil {
			leaderWg.Add(1)
			go func() {
				defer leaderWg.Done()
				recon.Run(leaderCtx)
			}()
		}
	}
	onDemoted := func() {
		leaderWg.Wait()
	}

	elector := leaderelection.New(db, cfg.LeaderLockKey,
		cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
		onElected, onDemoted)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	// Create API handler with the same store instance.
	// Using a fixed project ID for single-tenant mode.
	projectID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	apiHandler := api.NewHandler(store, sched, projectID).WithHealthChecker(db)

	if len(seedFiles) > 0 {
		if err := seedJobs(context.Background(), store, projectID, seedFiles); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			return exitRuntimeError
		}
	}

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("jobrun: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("jobrun: http server error: %v", err)
		}
	}()

	// Separate contexts so shutdown can be ordered: elector (scheduler and
	// reconciler) first, runner last so it can drain what was emitted.
	electorCtx, cancelElector := context.WithCancel(context.Background())
	runnerCtx, cancelRunner := context.WithCancel(context.Background())

	var electorWg sync.WaitGroup
	var runnerWg sync.WaitGroup

	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		run.Run(runnerCtx, bus.Channel())
	}()

	log.Printf("jobrun: started (tick=%s, http=%s)", cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("jobrun: received signal %v, shutting down", received)

	// Phase 1: Stop the elector. Demotion stops the scheduler and
	// reconciler, so no new events are emitted.
	log.Println("jobrun: stopping elector...")
	cancelElector()
	electorWg.Wait()
	log.Println("jobrun: elector stopped")

	// Phase 2: Stop the runner (drains buffered events before returning).
	log.Println("jobrun: stopping runner (draining events)...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("jobrun: runner stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("jobrun: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("jobrun: http server shutdown error: %v", err)
	}
	log.Println("jobrun: http server stopped")

	log.Println("jobrun: stopped")
	return exitSuccess
}

// parseSeedFlags extracts --seed <file> (repeatable) from serve arguments.
func parseSeedFlags(args []string) ([]string, error) {
	var files []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--seed":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--seed requires a file argument")
			}
			i++
			files = append(files, args[i])
		case strings.HasPrefix(args[i], "--seed="):
			files = append(files, strings.TrimPrefix(args[i], "--seed="))
		default:
			return nil, fmt.Errorf("unknown serve argument: %s", args[i])
		}
	}
	return files, nil
}

// seedJobs loads job definitions into the store at startup. Jobs whose name
// already exists in the project are skipped, so restarts are idempotent.
func seedJobs(ctx context.Context, store *postgres.Store, projectID uuid.UUID, paths []string) error {
	existing, err := store.ListJobs(ctx, projectID, api.MaxLimit, 0)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, job := range existing {
		known[job.Name] = true
	}

	for _, path := range paths {
		job, err := jobspec.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if known[job.Name] {
			log.Printf("jobrun: seed %s: job %q already exists, skipping", path, job.Name)
			continue
		}
		job.ProjectID = projectID
		if err := store.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("%s: create job: %w", path, err)
		}
		known[job.Name] = true
		log.Printf("jobrun: seeded job %q from %s", job.Name, path)
	}
	return nil
}

// onceStore is an in-memory runner.Store for the once command. It holds
// exactly one job and the state of its single run.
type onceStore struct {
	mu  sync.Mutex
	job domain.Job

	status   domain.RunStatus
	exitCode int
	runErr   string
}

func (s *onceStore) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	return s.job, nil
}

func (s *onceStore) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return runner.ErrStatusTransitionDenied
	}
	s.status = status
	return nil
}

func (s *onceStore) CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, exitCode int, runErr string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return runner.ErrStatusTransitionDenied
	}
	s.status = status
	s.exitCode = exitCode
	s.runErr = runErr
	return nil
}

func (s *onceStore) InsertRunStep(ctx context.Context, step domain.RunStep) error {
	return nil
}

// runOnce executes a job definition locally, without a database, and maps
// the run outcome to the process exit code.
func runOnce(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: jobrun once <spec.yaml>")
		return exitRuntimeError
	}

	job, err := jobspec.Load(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	cfg := config.Load()

	var secretSource runner.SecretSource
	switch cfg.SecretSource {
	case "file":
		if cfg.SecretFile == "" {
			fmt.Fprintln(os.Stderr, "SECRET_FILE is required when SECRET_SOURCE is 'file'")
			return exitInvalidConfig
		}
		secretSource = secrets.NewFileSource(cfg.SecretFile)
	default:
		secretSource = secrets.NewEnvSource(cfg.SecretEnvPrefix)
	}

	store := &onceStore{job: job}
	run := runner.New(
		store,
		environment.NewProcessProvisioner(cfg.WorkdirRoot),
		environment.NewPipInstaller(),
		secretSource,
		task.NewExecutor(),
	).WithDefaultTimeout(cfg.RunTimeout)

	now := time.Now().UTC()
	event := domain.TriggerEvent{
		RunID:       uuid.New(),
		JobID:       job.ID,
		ProjectID:   job.ProjectID,
		Trigger:     domain.TriggerManual,
		ScheduledAt: now,
		FiredAt:     now,
		CreatedAt:   now,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run.Process(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return exitRuntimeError
	}

	switch store.status {
	case domain.RunStatusSucceeded:
		fmt.Println("run succeeded")
		return exitSuccess
	case domain.RunStatusTimedOut:
		fmt.Fprintln(os.Stderr, "run timed out")
		return exitRuntimeError
	default:
		fmt.Fprintf(os.Stderr, "run failed: %s\n", store.runErr)
		if store.exitCode > 0 {
			return store.exitCode
		}
		return exitRuntimeError
	}
}

func runValidate(args []string) int {
	if len(args) == 0 {
		cfg := config.Load()
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitInvalidConfig
		}
		fmt.Println("configuration valid")
		return exitSuccess
	}

	code := exitSuccess
	for _, path := range args {
		if _, err := jobspec.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			code = exitInvalidConfig
			continue
		}
		fmt.Printf("%s: valid\n", path)
	}
	return code
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("jobrun version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
