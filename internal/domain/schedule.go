package domain

// ScheduleSpec describes when a job may be triggered: a 5-field cron
// expression evaluated in Timezone, a manual dispatch flag, or both.
type ScheduleSpec struct {
	CronExpression string
	Timezone       string // IANA timezone, defaults to UTC
	AllowManual    bool
}

// Reachable reports whether at least one trigger mode is enabled.
// A job with neither a cron expression nor manual dispatch can never run.
func (s ScheduleSpec) Reachable() bool {
	return s.CronExpression != "" || s.AllowManual
}
