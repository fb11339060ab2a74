package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/messaging"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingDeliverer fails for ids in failFor and records every call.
type recordingDeliverer struct {
	failFor map[shared.UserID]bool
	calls   []string
	stopAt  int
}

func (d *recordingDeliverer) SendAll(_ context.Context, ids []shared.UserID, text string) messaging.BatchResult {
	d.calls = append(d.calls, text)
	res := messaging.BatchResult{}
	for i, id := range ids {
		if d.stopAt > 0 && i == d.stopAt {
			res.Interrupted = true
			break
		}
		res.Attempted = append(res.Attempted, id)
		if d.failFor[id] {
			res.Failed++
		} else {
			res.Delivered++
		}
	}
	return res
}

func newLedger(t *testing.T) (*engagement.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)}
	store := engagement.NewStore(docstore.NewMemoryStore(), engagement.StoreConfig{
		Clock: period.NewClock(time.UTC).WithNow(c.Now),
	})
	return store, c
}

func register(t *testing.T, s *engagement.Store, ids ...shared.UserID) {
	t.Helper()
	for _, id := range ids {
		_, err := s.RegisterUser(context.Background(), id, engagement.Profile{Username: "u" + id.String()})
		require.NoError(t, err)
	}
}

func TestBroadcastJob_RecordsAttemptedRecipients(t *testing.T) {
	store, c := newLedger(t)
	ctx := context.Background()

	register(t, store, 1)
	c.Advance(-20 * 24 * time.Hour)
	register(t, store, 2) // last seen 20 days before "now"
	c.Advance(20 * 24 * time.Hour)
	register(t, store, 3, 4)
	_, err := store.ToggleNotifications(ctx, 4)
	require.NoError(t, err)

	deliverer := &recordingDeliverer{failFor: map[shared.UserID]bool{3: true}}
	job := NewBroadcastJob(store, deliverer, nil, BroadcastConfig{WindowDays: 14, Message: "hi"})

	require.NoError(t, job.Run(ctx))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 2, stats.Targeted)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 1, stats.Failed)

	// Failed recipients are still credited.
	for _, id := range []shared.UserID{1, 3} {
		u, ok := store.User(ctx, id)
		require.True(t, ok)
		assert.Equal(t, int64(1), u.BroadcastsReceived, "user %d", id)
	}
	for _, id := range []shared.UserID{2, 4} {
		u, _ := store.User(ctx, id)
		assert.Zero(t, u.BroadcastsReceived, "user %d", id)
	}
	snap := store.Snapshot(ctx)
	assert.Equal(t, int64(2), snap.Statistics.Totals.BroadcastsSent)
}

func TestBroadcastJob_NoTargets(t *testing.T) {
	store, _ := newLedger(t)
	deliverer := &recordingDeliverer{}
	job := NewBroadcastJob(store, deliverer, nil, DefaultBroadcastConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, deliverer.calls)
	assert.Zero(t, job.LastRunStats().Targeted)
}

func TestBroadcastJob_InterruptedStillRecords(t *testing.T) {
	store, _ := newLedger(t)
	ctx := context.Background()
	register(t, store, 1, 2, 3)

	job := NewBroadcastJob(store, &recordingDeliverer{stopAt: 2}, nil, DefaultBroadcastConfig())
	err := job.Run(ctx)
	require.Error(t, err)

	snap := store.Snapshot(ctx)
	assert.Equal(t, int64(2), snap.Statistics.Totals.BroadcastsSent)
	u, _ := store.User(ctx, 3)
	assert.Zero(t, u.BroadcastsReceived)
}

func TestAdminReportJob(t *testing.T) {
	store, _ := newLedger(t)
	register(t, store, 10)
	gen := report.NewGenerator(report.Config{ExportDir: t.TempDir()})

	deliverer := &recordingDeliverer{}
	admins := []shared.UserID{100, 200}

	weekly := NewAdminReportJob(ReportWeekly, store, gen, deliverer, admins, nil)
	assert.Equal(t, "weekly_report", weekly.Name())
	require.NoError(t, weekly.Run(context.Background()))
	require.Len(t, deliverer.calls, 1)
	assert.Contains(t, deliverer.calls[0], "ЕЖЕНЕДЕЛЬНЫЙ ОТЧЁТ")
	assert.Equal(t, 2, weekly.LastRunStats().Delivered)

	efficiency := NewAdminReportJob(ReportEfficiency, store, gen, deliverer, admins, nil)
	require.NoError(t, efficiency.Run(context.Background()))
	assert.Contains(t, deliverer.calls[1], "2024_P5")
}

func TestAdminReportJob_AllAdminsFail(t *testing.T) {
	store, _ := newLedger(t)
	gen := report.NewGenerator(report.Config{})
	deliverer := &recordingDeliverer{failFor: map[shared.UserID]bool{100: true}}

	job := NewAdminReportJob(ReportEfficiency, store, gen, deliverer, []shared.UserID{100}, nil)
	err := job.Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrDeliveryFailed)
}

func TestAdminReportJob_NoAdmins(t *testing.T) {
	store, _ := newLedger(t)
	deliverer := &recordingDeliverer{}
	job := NewAdminReportJob(ReportWeekly, store, report.NewGenerator(report.Config{}), deliverer, nil, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, deliverer.calls)
}

func TestInactivitySweepJob(t *testing.T) {
	store, c := newLedger(t)
	ctx := context.Background()
	register(t, store, 1)
	c.Advance(91 * 24 * time.Hour)
	register(t, store, 2)

	job := NewInactivitySweepJob(store, 90, nil)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, job.LastRunStats().Affected)

	u1, _ := store.User(ctx, 1)
	u2, _ := store.User(ctx, 2)
	assert.False(t, u1.Active)
	assert.True(t, u2.Active)
}

type fakeSweeper struct{ evicted, open int }

func (f *fakeSweeper) SweepExpired() int { return f.evicted }
func (f *fakeSweeper) OpenSessions() int { return f.open }

type fakeFlusher struct {
	degraded bool
	err      error
	flushed  int
}

func (f *fakeFlusher) Degraded() bool { return f.degraded }
func (f *fakeFlusher) Flush(context.Context) error {
	f.flushed++
	return f.err
}

func TestMaintenanceJob(t *testing.T) {
	sweeper := &fakeSweeper{evicted: 3, open: 1}
	flusher := &fakeFlusher{}
	job := NewMaintenanceJob(sweeper, flusher, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, job.LastRunStats().Affected)
	assert.Zero(t, flusher.flushed, "healthy store is not flushed")

	flusher.degraded = true
	flusher.err = errors.New("still down")
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "still down"))
	assert.Equal(t, 1, flusher.flushed)
}
