// Package analytics keeps per-job outcome counters in Redis. Counters are
// best-effort: a write failure is logged and dropped, never surfaced to
// the run.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/jobrun/internal/domain"
)

// DefaultRetention applies when a job enables analytics without a TTL.
const DefaultRetention = 24 * time.Hour

type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Record increments the daily outcome counter for the run's job.
// Keys look like p:<project>:j:<job>:outcome:succeeded:20240115.
func (s *RedisSink) Record(ctx context.Context, event domain.TriggerEvent, status domain.RunStatus, config domain.AnalyticsConfig) {
	if !config.Enabled {
		return
	}

	retention := DefaultRetention
	if config.RetentionSeconds > 0 {
		retention = time.Duration(config.RetentionSeconds) * time.Second
	}

	key := buildKey(event.ProjectID.String(), event.JobID.String(), status, event.ScheduledAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline for job=%s: %v", event.JobID, err)
	}
}

func buildKey(projectID, jobID string, status domain.RunStatus, t time.Time) string {
	return fmt.Sprintf("p:%s:j:%s:outcome:%s:%s", projectID, jobID, status, t.UTC().Format("20060102"))
}
