package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file at the given path (missing file is allowed)
// 3. LV_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env values for keys viper already knows about.
	// The secrets have no defaults, so they must be bound explicitly or
	// LV_PLATFORM_CHANNEL_SECRET and friends would be silently ignored.
	secretKeys := []string{"platform.channel_secret", "platform.channel_token", "blob.signing_key"}
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, defaults plus env vars apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	v.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
	v.SetDefault("server.idle_timeout", DefaultServerIdleTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)
	v.SetDefault("server.max_body_bytes", DefaultServerMaxBodyBytes)

	v.SetDefault("platform.api_base_url", DefaultPlatformAPIBaseURL)
	v.SetDefault("platform.content_base_url", DefaultPlatformContentBaseURL)
	v.SetDefault("platform.lookup_timeout", DefaultPlatformLookupTimeout)
	v.SetDefault("platform.content_timeout", DefaultPlatformContentTimeout)

	v.SetDefault("database.path", DefaultDBPath)

	v.SetDefault("blob.dir", DefaultBlobDir)
	v.SetDefault("blob.base_url", DefaultBlobBaseURL)
	v.SetDefault("blob.url_ttl", DefaultBlobURLTTL)
	v.SetDefault("blob.max_file_size", DefaultBlobMaxFileSize)

	v.SetDefault("export.temp_dir", DefaultExportTempDir)
	v.SetDefault("export.max_age", DefaultExportMaxAge)

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"sql_maintenance": {Enabled: true, Schedule: "0 0 4 * * *"},
		"export_cleanup":  {Enabled: true, Schedule: "0 30 * * * *"},
	})
}
