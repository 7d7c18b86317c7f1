package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = time.Hour

// Push channel
const (
	PushRoute         = "/ws"
	PushPingInterval  = 30 * time.Second
	PushWriteDeadline = 10 * time.Second
)

// Upstream device selector for "all devices owned by the credential".
const DeviceSelectorMine = "mine"

// Prefix of webhook response events published by the device cloud.
const HookResponsePrefix = "hook-response/"

// Browser session cookie
const (
	SessionCookieName = "locator_session"
	SessionTTL        = 24 * time.Hour
)

// Login attempts allowed per client IP per minute
const LoginAttemptsPerMinute = 10

// Metadata server lookup
const (
	MetadataFallbackHost = "localhost"
	MetadataTimeout      = 2 * time.Second
)
