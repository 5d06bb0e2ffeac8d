// Package trigger decides whether a job fires at a given instant.
//
// Evaluate is pure: same (now, spec, manual) always yields the same answer,
// with no state carried between calls. The scheduler and the manual dispatch
// endpoint both go through it so the trigger rules live in one place.
package trigger

import (
	"fmt"
	"time"

	"github.com/djlord-it/jobrun/internal/cron"
	"github.com/djlord-it/jobrun/internal/domain"
)

// Evaluate reports whether a job with the given schedule fires at now.
// A manual request fires whenever the spec allows manual dispatch,
// independent of the cron expression. A scheduled evaluation fires when
// now matches the cron expression at minute granularity.
func Evaluate(now time.Time, spec domain.ScheduleSpec, manual bool) (bool, error) {
	if manual {
		return spec.AllowManual, nil
	}

	if spec.CronExpression == "" {
		return false, nil
	}

	tz := spec.Timezone
	if tz == "" {
		tz = "UTC"
	}

	sched, err := cron.NewParser().Parse(spec.CronExpression, tz)
	if err != nil {
		return false, fmt.Errorf("evaluate trigger: %w", err)
	}

	return sched.Matches(now), nil
}
