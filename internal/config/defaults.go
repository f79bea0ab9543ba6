package config

import "time"

// Default values for optional configuration parameters.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	DefaultServerAddr            = ":3000"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 30 * time.Second
	DefaultServerIdleTimeout     = time.Minute
	DefaultServerShutdownTimeout = 30 * time.Second
	DefaultServerMaxBodyBytes    = 2 << 20 // webhook deliveries are JSON only

	DefaultPlatformAPIBaseURL     = "https://api.line.me"
	DefaultPlatformContentBaseURL = "https://api-data.line.me"
	DefaultPlatformLookupTimeout  = 10 * time.Second
	DefaultPlatformContentTimeout = 2 * time.Minute

	DefaultDBPath = "linevault.db"

	DefaultBlobDir         = "data/files"
	DefaultBlobBaseURL     = "http://localhost:3000"
	DefaultBlobURLTTL      = time.Hour
	DefaultBlobMaxFileSize = 50 << 20 // 50 MiB

	DefaultExportTempDir = "data/exports"
	DefaultExportMaxAge  = 24 * time.Hour
)
