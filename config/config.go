// Package config provides the core Quarters configuration.
package config

// Config represents the core Quarters configuration
type Config struct {
	Cache  CacheConfig  `mapstructure:"cache"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Track  TrackConfig  `mapstructure:"track"`
	Cron   CronConfig   `mapstructure:"cron"`
	Server ServerConfig `mapstructure:"server"`
}

// CacheConfig configures the Redis cache used by the job registry
type CacheConfig struct {
	RedisAddr string `mapstructure:"redis_addr"` // host:port (default: localhost:6379)
	RedisDB   int    `mapstructure:"redis_db"`
}

// QueueConfig configures the embedded queue backend and its workers
type QueueConfig struct {
	DatabasePath          string `mapstructure:"database_path"`           // SQLite file, ":memory:" for dev
	Workers               int    `mapstructure:"workers"`                 // concurrent job workers (default: 1)
	PollIntervalSeconds   int    `mapstructure:"poll_interval_seconds"`   // worker poll cadence (default: 5)
	TickerIntervalSeconds int    `mapstructure:"ticker_interval_seconds"` // repeatable-job check cadence (default: 1)
}

// TrackConfig configures the user-facing job registry
type TrackConfig struct {
	RetentionSeconds int `mapstructure:"retention_seconds"` // TTL for tracked jobs (default: 7200)
}

// CronConfig configures defaults applied to recurring jobs
type CronConfig struct {
	DefaultTimezone       string `mapstructure:"default_timezone"`        // default: UTC
	DefaultTimeoutSeconds int    `mapstructure:"default_timeout_seconds"` // default: 300
}

// ServerConfig configures the push/WebSocket endpoint
type ServerConfig struct {
	Port           int      `mapstructure:"port"` // default: 8170
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Default values applied when no config file or env override is present
const (
	DefaultServerPort            = 8170
	DefaultTrackRetentionSeconds = 7200
	DefaultCronTimeoutSeconds    = 300
	DefaultCronTimezone          = "UTC"
)
