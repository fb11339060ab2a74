package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"TELEGRAM_TOKEN": "123:abc"})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "Europe/Moscow", cfg.App.Location().String())
	assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, 30, cfg.Telegram.RateLimitPerMinute)
	assert.Equal(t, 14, cfg.Engagement.StatsWindowDays)
	assert.Equal(t, 30*time.Minute, cfg.Engagement.SessionTTL)
	assert.Equal(t, "@every 5m", cfg.Jobs.Maintenance)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.IsProduction())

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"TELEGRAM_TOKEN":     "123:abc",
		"TELEGRAM_ADMIN_IDS": "11,22",
		"STORAGE_BACKEND":    "Redis",
		"REDIS_HOST":         "cache",
		"APP_TIMEZONE":       "UTC",
		"LOG_LEVEL":          "debug",
		"LOG_FORMAT":         "text",
		"HTTP_API_KEYS":      "k1,k2",
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{11, 22}, cfg.Telegram.AdminIDs)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, time.UTC.String(), cfg.App.Location().String())
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    string
	}{
		{"missing token", map[string]string{}, "TELEGRAM_TOKEN is required"},
		{"unknown backend", map[string]string{"TELEGRAM_TOKEN": "x", "STORAGE_BACKEND": "mongo"}, `"mongo"`},
		{"redis without host", map[string]string{"TELEGRAM_TOKEN": "x", "STORAGE_BACKEND": "redis"}, "REDIS_HOST"},
		{"bad admin id", map[string]string{"TELEGRAM_TOKEN": "x", "TELEGRAM_ADMIN_IDS": "5,-1"}, "invalid id -1"},
		{"bad log format", map[string]string{"TELEGRAM_TOKEN": "x", "LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"bad log level", map[string]string{"TELEGRAM_TOKEN": "x", "LOG_LEVEL": "loud"}, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFrom_BadTimezone(t *testing.T) {
	_, err := LoadFrom(map[string]string{"TELEGRAM_TOKEN": "x", "APP_TIMEZONE": "Mars/Olympus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_TIMEZONE")
}
