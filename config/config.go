// Package config loads the process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Telegram   TelegramConfig   `envPrefix:"TELEGRAM_"`
	Storage    StorageConfig    `envPrefix:"STORAGE_"`
	Postgres   PostgresConfig   `envPrefix:"POSTGRES_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	SQLite     SQLiteConfig     `envPrefix:"SQLITE_"`
	Engagement EngagementConfig `envPrefix:"ENGAGEMENT_"`
	Jobs       JobsConfig       `envPrefix:"JOB_"`
	HTTP       HTTPConfig       `envPrefix:"HTTP_"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Environment Environment `env:"ENV" envDefault:"development"`
	Version     string      `env:"VERSION" envDefault:"dev"`

	// Timezone anchors the 14-day periods and the cron schedules.
	Timezone string `env:"TIMEZONE" envDefault:"Europe/Moscow"`
	location *time.Location

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"` // json | text
}

// TelegramConfig holds Telegram Bot settings.
type TelegramConfig struct {
	Token    string  `env:"TOKEN"`
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	PollTimeout    time.Duration `env:"POLL_TIMEOUT" envDefault:"30s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"40s"`

	// RateLimitPerMinute throttles non-admin users; 0 disables.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"10"`

	FeedbackWait time.Duration `env:"FEEDBACK_WAIT" envDefault:"15m"`
	Debug        bool          `env:"DEBUG"`
}

// StorageConfig selects and tunes the document store.
type StorageConfig struct {
	Backend string `env:"BACKEND" envDefault:"memory"`

	// Timeout and MaxAttempts configure the resilient decorator.
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"5s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`

	// ConflictRetries bounds how often a mutation is reapplied after a
	// concurrent write.
	ConflictRetries int `env:"CONFLICT_RETRIES" envDefault:"3"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	URL      string `env:"URL"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	Database string `env:"DB" envDefault:"postgres"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"4"`
}

// RedisConfig holds Redis connection settings. Redis also provides the
// scheduler lease whenever it is configured, whatever the storage backend.
type RedisConfig struct {
	Host      string `env:"HOST"`
	Port      int    `env:"PORT" envDefault:"6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"engagement:"`
}

// Enabled reports whether a Redis host is configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// SQLiteConfig holds the embedded database path.
type SQLiteConfig struct {
	Path string `env:"PATH" envDefault:"data/engagement.db"`
}

// EngagementConfig tunes the domain.
type EngagementConfig struct {
	StatsWindowDays   int           `env:"STATS_WINDOW_DAYS" envDefault:"14"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	MaxSessions       int           `env:"MAX_SESSIONS" envDefault:"10000"`
	ResultCount       int           `env:"RESULT_COUNT" envDefault:"3"`
	MaxUsersInDetail  int           `env:"MAX_USERS_IN_DETAIL" envDefault:"50"`
	ExportDir         string        `env:"EXPORT_DIR" envDefault:"reports"`
	SendDelay         time.Duration `env:"SEND_DELAY" envDefault:"50ms"`
	InactiveAfterDays int           `env:"INACTIVE_AFTER_DAYS" envDefault:"30"`
}

// JobsConfig holds the schedule of every background job. An empty schedule
// disables the job.
type JobsConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	Broadcast           string `env:"BROADCAST_SCHEDULE" envDefault:"0 12 * * 1"`
	BroadcastWindowDays int    `env:"BROADCAST_WINDOW_DAYS" envDefault:"14"`
	BroadcastMessage    string `env:"BROADCAST_MESSAGE"`

	EfficiencyReport string `env:"EFFICIENCY_REPORT_SCHEDULE" envDefault:"0 10 * * 1"`
	WeeklyReport     string `env:"WEEKLY_REPORT_SCHEDULE" envDefault:"0 9 * * 5"`
	InactivitySweep  string `env:"INACTIVITY_SWEEP_SCHEDULE" envDefault:"@daily"`
	Maintenance      string `env:"MAINTENANCE_SCHEDULE" envDefault:"@every 5m"`

	LockTTL time.Duration `env:"LOCK_TTL" envDefault:"30m"`
}

// HTTPConfig holds the operations server settings.
type HTTPConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr    string   `env:"ADDR" envDefault:":8080"`
	APIKeys []string `env:"API_KEYS" envSeparator:","`
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load reads the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from environ instead of the process
// environment. Used by tests and the one-shot job runner.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.App.Timezone, err)
	}
	cfg.App.location = loc

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "TELEGRAM_TOKEN is required")
	}
	for _, id := range c.Telegram.AdminIDs {
		if id <= 0 {
			errs = append(errs, fmt.Sprintf("TELEGRAM_ADMIN_IDS contains invalid id %d", id))
		}
	}
	if c.Telegram.RateLimitPerMinute < 0 {
		errs = append(errs, "TELEGRAM_RATE_LIMIT_PER_MINUTE must not be negative")
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Postgres.URL == "" && c.Postgres.Host == "" {
			errs = append(errs, "POSTGRES_URL or POSTGRES_HOST is required for the postgres backend")
		}
	case BackendRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, "REDIS_HOST is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND %q is not one of memory, postgres, redis, sqlite", c.Storage.Backend))
	}
	if c.Storage.MaxAttempts < 1 {
		errs = append(errs, "STORAGE_MAX_ATTEMPTS must be at least 1")
	}

	if c.Engagement.StatsWindowDays < 1 {
		errs = append(errs, "ENGAGEMENT_STATS_WINDOW_DAYS must be positive")
	}
	if c.Engagement.InactiveAfterDays < 1 {
		errs = append(errs, "ENGAGEMENT_INACTIVE_AFTER_DAYS must be positive")
	}
	if c.Jobs.BroadcastWindowDays < 1 {
		errs = append(errs, "JOB_BROADCAST_WINDOW_DAYS must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT %q is not json or text", c.Log.Format))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location returns the resolved Timezone.
func (c AppConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// SlogLevel parses Level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", c.Level, err)
	}
	return lvl, nil
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
