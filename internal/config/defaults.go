package config

import "time"

// Default configuration values.
const (
	DefaultLogLevel          = "info"
	DefaultHistoryDB         = "/var/lib/acd-hostd/history.db"
	DefaultPIDFile           = "/run/acd-hostd.pid"
	DefaultMetricsListen     = "0.0.0.0:9107"
	DefaultEventBufferSize   = 1000
	DefaultScriptConcurrency = 4
	DefaultScriptTimeout     = 10 * time.Second
	DefaultWebhookRetries    = 3
	DefaultWebhookRetryBackoff = 2 * time.Second

	DefaultProbeWait         = 1 * time.Second
	DefaultProbeNum          = 3
	DefaultProbeMin          = 1 * time.Second
	DefaultProbeMax          = 2 * time.Second
	DefaultAnnounceWait      = 2 * time.Second
	DefaultAnnounceNum       = 2
	DefaultAnnounceInterval  = 2 * time.Second
	DefaultMaxConflicts      = 10
	DefaultRateLimitInterval = 60 * time.Second
	DefaultDefendInterval    = 10 * time.Second
)
