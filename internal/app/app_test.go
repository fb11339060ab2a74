package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/config"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
)

func load(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	environ := map[string]string{
		"TELEGRAM_TOKEN":        "123:abc",
		"TELEGRAM_ADMIN_IDS":    "900",
		"ENGAGEMENT_EXPORT_DIR": t.TempDir(),
	}
	for k, v := range extra {
		environ[k] = v
	}
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	a, err := New(context.Background(), load(t, nil), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Redis)
	assert.Equal(t, []shared.UserID{900}, a.Admins())

	_, err = a.Store.RegisterUser(context.Background(), 1, engagement.Profile{Username: "a"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.Store.Snapshot(context.Background()).Statistics.Totals.Registered)

	status := a.Health.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Checks, "storage_breaker")
	assert.Contains(t, status.Checks, "storage_sync")

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_SQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	cfg := load(t, map[string]string{"STORAGE_BACKEND": "sqlite", "SQLITE_PATH": path})

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, err = a.Store.RegisterUser(context.Background(), 5, engagement.Profile{})
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))

	// State survives a restart.
	b, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	assert.EqualValues(t, 1, b.Store.Snapshot(context.Background()).Statistics.Totals.Registered)
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	a, err := New(context.Background(), load(t, nil), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	s, err := a.NewScheduler()
	require.NoError(t, err)

	var names []string
	for _, j := range s.ListJobs() {
		names = append(names, j.Name)
		assert.True(t, j.Enabled, j.Name)
	}
	assert.Equal(t, []string{"broadcast", "efficiency_report", "inactivity_sweep", "maintenance", "weekly_report"}, names)

	res, err := s.RunNow(context.Background(), "maintenance")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestNewScheduler_BadSchedule(t *testing.T) {
	a, err := New(context.Background(), load(t, map[string]string{"JOB_BROADCAST_SCHEDULE": "every tuesday"}), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.NewScheduler()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job broadcast")
}

func TestJobFailureText(t *testing.T) {
	text := jobFailureText(scheduler.JobResult{
		JobName:  "broadcast",
		Duration: 1500 * time.Millisecond,
		Error:    errors.New("storage unavailable"),
	})
	assert.Contains(t, text, "broadcast")
	assert.Contains(t, text, "1.5s")
	assert.Contains(t, text, "storage unavailable")
}
