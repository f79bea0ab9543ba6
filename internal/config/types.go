// Package config manages application configuration from config.yaml,
// LV_-prefixed environment variables, and default values.
package config

import "time"

// Config defines the application configuration. Values can be set via
// environment variables prefixed with LV_ (e.g., LV_PLATFORM_CHANNEL_TOKEN)
// or through config.yaml.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Export    ExportConfig    `mapstructure:"export"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"     validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"   validate:"min=1024"`
}

// PlatformConfig holds credentials and endpoints for the messaging platform API.
type PlatformConfig struct {
	ChannelSecret  string        `mapstructure:"channel_secret" validate:"required"`
	ChannelToken   string        `mapstructure:"channel_token"  validate:"required"`
	APIBaseURL     string        `mapstructure:"api_base_url"     validate:"url"`
	ContentBaseURL string        `mapstructure:"content_base_url" validate:"url"`
	LookupTimeout  time.Duration `mapstructure:"lookup_timeout"  validate:"min=1s,max=1m"`
	ContentTimeout time.Duration `mapstructure:"content_timeout" validate:"min=1s,max=10m"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// BlobConfig holds file storage settings.
type BlobConfig struct {
	Dir         string        `mapstructure:"dir"          validate:"required"`
	BaseURL     string        `mapstructure:"base_url"     validate:"url"`
	SigningKey  string        `mapstructure:"signing_key"  validate:"required,min=16"`
	URLTTL      time.Duration `mapstructure:"url_ttl"      validate:"min=1m"`
	MaxFileSize int64         `mapstructure:"max_file_size" validate:"min=1"`
}

// ExportConfig holds settings for the export temp directory.
type ExportConfig struct {
	TempDir string        `mapstructure:"temp_dir" validate:"required"`
	MaxAge  time.Duration `mapstructure:"max_age"  validate:"min=1m"`
}

// TaskConfig enables a named scheduled task with a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}
