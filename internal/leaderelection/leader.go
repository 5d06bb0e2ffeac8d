// Package leaderelection elects a single scheduling instance via a Postgres
// advisory lock.
//
// The lock is session-scoped and held for the lifetime of a dedicated
// database connection; there is no renewal or TTL. If the connection dies,
// Postgres releases the lock server-side (timing depends on TCP keepalive).
// The heartbeat ping only detects local connection death so the leader can
// stop its duties promptly; it does not renew anything.
//
// Only the leader ticks the scheduler and the reconciler. Followers keep
// their runner loops hot, so buffered trigger events and manual dispatches
// still drain on every instance during a failover.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Demotion reasons passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink records election state changes. Implementations must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Elector campaigns for a Postgres advisory lock and runs leader duties
// while it holds the lock.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink
}

// New creates an Elector.
//
// onElected runs in its own goroutine once the lock is acquired; its context
// is cancelled on demotion. It should start the leader duties and return.
// onDemoted is called synchronously after that cancellation and must block
// until the duties have fully stopped; it must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink. Nil leaves metrics disabled.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run campaigns for the lock until ctx is cancelled. Demotion completes
// (onDemoted returns) before Run returns.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: campaigning (lock_key=%d retry=%s heartbeat=%s)",
		e.lockKey, e.retryInterval, e.heartbeatInterval)

	for ctx.Err() == nil {
		reason := e.campaign(ctx)

		if ctx.Err() != nil {
			break
		}
		if reason != "" {
			log.Printf("leader: demoted (reason=%s), retrying in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.retryInterval):
		}
	}
	log.Println("leader: campaign stopped")
}

// campaign makes one attempt to acquire and hold the lock. It returns the
// demotion reason, or "" when the lock was never acquired.
func (e *Elector) campaign(ctx context.Context) string {
	// Session-scoped lock: it must live on one dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: dedicated connection unavailable: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired); err != nil {
		log.Printf("leader: advisory lock query failed: %v", err)
		return ""
	}
	if !acquired {
		return ""
	}

	log.Printf("leader: elected (lock_key=%d)", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.hold(ctx, conn)

	cancel()
	e.onDemoted()

	// Unlock explicitly so a standby can win the next campaign immediately
	// instead of waiting for the session to be reaped. Best effort: closing
	// the connection releases the lock anyway.
	if reason == ReasonShutdown {
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", e.lockKey); err != nil {
			log.Printf("leader: advisory unlock failed: %v", err)
		}
		unlockCancel()
	}

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released lock (lock_key=%d reason=%s)", e.lockKey, reason)
	return reason
}

// hold pings the lock's connection until ctx is cancelled or the connection
// dies, and reports which of the two ended the term.
func (e *Elector) hold(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				log.Printf("leader: heartbeat ping failed: %v", err)
				return ReasonConnLost
			}
		}
	}
}
