package domain

type AnalyticsConfig struct {
	Enabled          bool
	RetentionSeconds int // TTL for outcome counters, default 86400
}
