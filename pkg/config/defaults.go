package config

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Index defaults.
const (
	DefaultIndexShards               = 4
	DefaultIndexHibernationThreshold = 1000
	DefaultIndexAllowOverlap         = false
	DefaultIndexDebugChecks          = false
	DefaultIndexCacheEntries         = 0
)

// Stress defaults.
const (
	DefaultStressOps         = 100_000
	DefaultStressKeySpace    = 4096
	DefaultStressSeed        = 1
	DefaultStressVerifyEvery = 1000
)

// Telemetry defaults.
const (
	DefaultTelemetryOTLPEndpoint = ""
	DefaultTelemetryOTLPInsecure = false
	DefaultTelemetryMetricsAddr  = ""
)
