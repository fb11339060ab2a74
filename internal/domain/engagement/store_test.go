package engagement_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// flakyStore fails every call while down is set.
type flakyStore struct {
	engagement.DocumentStore
	mu    sync.Mutex
	down  bool
	saves int
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = v
}

func (f *flakyStore) Load(ctx context.Context, name string) (engagement.Document, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return engagement.Document{}, shared.NewDomainError("storage", "Load", shared.ErrStorageUnavailable, "down")
	}
	return f.DocumentStore.Load(ctx, name)
}

func (f *flakyStore) Save(ctx context.Context, name string, data []byte, prior string) (string, error) {
	f.mu.Lock()
	down := f.down
	f.saves++
	f.mu.Unlock()
	if down {
		return "", shared.NewDomainError("storage", "Save", shared.ErrStorageUnavailable, "down")
	}
	return f.DocumentStore.Save(ctx, name, data, prior)
}

func newTestStore(t *testing.T, docs engagement.DocumentStore) (*engagement.Store, *fakeNow) {
	t.Helper()
	now := &fakeNow{t: time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)}
	clock := period.NewClock(time.UTC).WithNow(now.Now)
	return engagement.NewStore(docs, engagement.StoreConfig{Clock: clock, ConflictRetries: 2}), now
}

func assertLedgerConsistent(t *testing.T, s *engagement.Store) {
	t.Helper()
	stats := s.Snapshot(context.Background()).Statistics
	for _, m := range engagement.AllMetrics {
		assert.Equal(t, stats.Totals.Get(m), stats.SumPeriods(m), "metric %s", m)
	}
}

func TestStore_RegisterUser_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, docstore.NewMemoryStore())

	created, err := s.RegisterUser(ctx, 42, engagement.Profile{Username: "ivanov"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.RegisterUser(ctx, 42, engagement.Profile{Username: "other"})
	require.NoError(t, err)
	assert.False(t, created)

	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(1), snap.Statistics.Totals.Registered)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "ivanov", snap.Users[0].Username)
	assert.True(t, snap.Users[0].NotificationsEnabled)
	assert.True(t, snap.Users[0].Active)
	assertLedgerConsistent(t, s)
}

func TestStore_RegisterUser_InvalidID(t *testing.T) {
	s, _ := newTestStore(t, docstore.NewMemoryStore())

	_, err := s.RegisterUser(context.Background(), 0, engagement.Profile{})
	assert.True(t, shared.IsValidation(err))
}

func TestStore_TouchActivity(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, docstore.NewMemoryStore())
	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)

	now.Advance(time.Hour)
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityCommand))
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))

	u, ok := s.User(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, int64(2), u.MessagesCount)
	assert.Equal(t, now.Now(), u.LastActivity)
	assert.False(t, u.FirstSeen.After(u.LastActivity))

	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(2), snap.Statistics.Totals.MessagesReceived)
	// Registration already counted the user as active in this period.
	assert.Equal(t, int64(1), snap.Statistics.Totals.ActiveUsers)
	assertLedgerConsistent(t, s)
}

func TestStore_TouchActivity_NewPeriodCountsActiveUser(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, docstore.NewMemoryStore())
	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)

	now.Advance(15 * 24 * time.Hour)
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityCallback))
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityCallback))

	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(2), snap.Statistics.Totals.ActiveUsers)
	ps, ok := snap.Statistics.Period(snap.CurrentPeriod.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), ps.ActiveUsers)
	assert.Equal(t, int64(0), ps.Registered)
	assertLedgerConsistent(t, s)
}

func TestStore_UnknownUserIsNoop(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	s, _ := newTestStore(t, mem)

	err := s.RecordQuestionnaireCompletion(ctx, 7, map[string]string{"name": "x"})
	assert.True(t, shared.IsUnknownUser(err))
	assert.True(t, shared.IsUnknownUser(s.TouchActivity(ctx, 7, engagement.ActivityMessage)))
	assert.True(t, shared.IsUnknownUser(s.RecordFeedback(ctx, 7)))
	_, err = s.ToggleNotifications(ctx, 7)
	assert.True(t, shared.IsUnknownUser(err))

	_, ok := mem.Raw(engagement.StatisticsDocument)
	assert.False(t, ok, "no statistics should be written")
}

func TestStore_RecordQuestionnaireCompletion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, docstore.NewMemoryStore())
	_, err := s.RegisterUser(ctx, 5, engagement.Profile{})
	require.NoError(t, err)

	answers := map[string]string{"full_name": "Иван Иванов", "phone": "+79991234567"}
	require.NoError(t, s.RecordQuestionnaireCompletion(ctx, 5, answers))
	answers["full_name"] = "mutated"

	u, ok := s.User(ctx, 5)
	require.True(t, ok)
	assert.Equal(t, int64(1), u.QuestionnairesCompleted)
	assert.Equal(t, "Иван Иванов", u.QuestionnaireAnswers["full_name"])
	require.NotNil(t, u.QuestionnaireCompletedAt)
	assert.True(t, u.HasCompletedQuestionnaire())

	err = s.RecordQuestionnaireCompletion(ctx, 5, nil)
	assert.True(t, shared.IsValidation(err))

	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(1), snap.Statistics.Totals.Questionnaires)
	ps, _ := snap.Statistics.Period(snap.CurrentPeriod.ID)
	assert.Equal(t, int64(1), ps.Questionnaires)
	assertLedgerConsistent(t, s)
}

func TestStore_RecordFeedback(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, docstore.NewMemoryStore())
	_, err := s.RegisterUser(ctx, 3, engagement.Profile{})
	require.NoError(t, err)

	require.NoError(t, s.RecordFeedback(ctx, 3))
	require.NoError(t, s.RecordFeedback(ctx, 3))

	u, _ := s.User(ctx, 3)
	assert.Equal(t, int64(2), u.FeedbackCount)
	assert.NotNil(t, u.LastFeedback)
	assert.Equal(t, int64(2), s.Snapshot(ctx).Statistics.Totals.FeedbackReceived)
	assertLedgerConsistent(t, s)
}

func TestStore_RecordBroadcast_CountsAllIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, docstore.NewMemoryStore())
	for _, id := range []shared.UserID{1, 2} {
		_, err := s.RegisterUser(ctx, id, engagement.Profile{})
		require.NoError(t, err)
	}

	require.NoError(t, s.RecordBroadcast(ctx, []shared.UserID{1, 2, 99}))

	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(3), snap.Statistics.Totals.BroadcastsSent)
	for _, u := range snap.Users {
		assert.Equal(t, int64(1), u.BroadcastsReceived)
	}
	assertLedgerConsistent(t, s)

	require.NoError(t, s.RecordBroadcast(ctx, nil))
	assert.Equal(t, int64(3), s.Snapshot(ctx).Statistics.Totals.BroadcastsSent)
}

func TestStore_ToggleNotifications(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, docstore.NewMemoryStore())
	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)

	enabled, err := s.ToggleNotifications(ctx, 1)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = s.ToggleNotifications(ctx, 1)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestStore_QueryActiveUsers(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, docstore.NewMemoryStore())

	// Stale user: registered 15 days before the query.
	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)
	now.Advance(15 * 24 * time.Hour)

	_, err = s.RegisterUser(ctx, 2, engagement.Profile{})
	require.NoError(t, err)
	_, err = s.RegisterUser(ctx, 3, engagement.Profile{})
	require.NoError(t, err)
	_, err = s.ToggleNotifications(ctx, 3)
	require.NoError(t, err)

	active := s.QueryActiveUsers(ctx, 14)
	require.Len(t, active, 1)
	assert.Equal(t, shared.UserID(2), active[0].ID)
}

func TestStore_MarkStaleInactive(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	store := &flakyStore{DocumentStore: mem}
	s, now := newTestStore(t, store)

	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))
	now.Advance(91 * 24 * time.Hour)
	_, err = s.RegisterUser(ctx, 2, engagement.Profile{})
	require.NoError(t, err)

	before := s.Snapshot(ctx)
	savesBefore := store.saves

	flipped, err := s.MarkStaleInactive(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)
	assert.Equal(t, savesBefore+1, store.saves, "sweep must be one write")

	u1, _ := s.User(ctx, 1)
	u2, _ := s.User(ctx, 2)
	assert.False(t, u1.Active)
	assert.True(t, u2.Active)
	assert.Equal(t, int64(1), u1.MessagesCount)
	assert.Equal(t, before.Statistics.Totals, s.Snapshot(ctx).Statistics.Totals)

	flipped, err = s.MarkStaleInactive(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, 0, flipped)

	_, err = s.MarkStaleInactive(ctx, 0)
	assert.Error(t, err)
}

func TestStore_ComputeActivityMetrics(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, docstore.NewMemoryStore())

	empty := s.ComputeActivityMetrics(ctx, 7)
	assert.Equal(t, 0, empty.TotalUsers)
	assert.Zero(t, empty.ActivityRate)

	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)
	now.Advance(10 * 24 * time.Hour)
	_, err = s.RegisterUser(ctx, 2, engagement.Profile{})
	require.NoError(t, err)
	require.NoError(t, s.TouchActivity(ctx, 2, engagement.ActivityMessage))
	require.NoError(t, s.TouchActivity(ctx, 2, engagement.ActivityMessage))
	require.NoError(t, s.RecordFeedback(ctx, 2))

	m := s.ComputeActivityMetrics(ctx, 7)
	assert.Equal(t, 2, m.TotalUsers)
	assert.Equal(t, 1, m.ActiveUsers)
	assert.InDelta(t, 0.5, m.ActivityRate, 1e-9)
	assert.Equal(t, 1, m.FeedbackUsers)
	assert.InDelta(t, 0.5, m.FeedbackRate, 1e-9)
	assert.InDelta(t, 1.0, m.AvgMessages, 1e-9)
}

func TestStore_ReloadsBeforeMutating(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	a, _ := newTestStore(t, mem)
	b, _ := newTestStore(t, mem)

	_, err := a.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)
	_, err = b.RegisterUser(ctx, 2, engagement.Profile{})
	require.NoError(t, err)
	_, err = a.RegisterUser(ctx, 3, engagement.Profile{})
	require.NoError(t, err)

	snap := b.Snapshot(ctx)
	assert.Len(t, snap.Users, 3)
	assert.Equal(t, int64(3), snap.Statistics.Totals.Registered)
	assertLedgerConsistent(t, b)
}

func TestStore_DegradedMode(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	store := &flakyStore{DocumentStore: mem, down: true}
	s, _ := newTestStore(t, store)

	created, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))
	assert.True(t, s.Degraded())

	u, ok := s.User(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), u.MessagesCount)

	_, ok = mem.Raw(engagement.UsersDocument)
	assert.False(t, ok)

	store.setDown(false)
	require.NoError(t, s.RecordFeedback(ctx, 1))
	assert.False(t, s.Degraded())

	raw, ok := mem.Raw(engagement.UsersDocument)
	require.True(t, ok)
	var reg map[string]engagement.UserRecord
	require.NoError(t, json.Unmarshal(raw, &reg))
	assert.Equal(t, int64(1), reg["1"].MessagesCount)
	assert.Equal(t, int64(1), reg["1"].FeedbackCount)

	require.NoError(t, s.Flush(ctx))
	assertLedgerConsistent(t, s)
	assert.Equal(t, int64(1), s.Snapshot(ctx).Statistics.Totals.Registered)
}

// conflictOnce rejects the first conditional save of each document.
type conflictOnce struct {
	engagement.DocumentStore
	mu      sync.Mutex
	tripped map[string]bool
}

func (c *conflictOnce) Save(ctx context.Context, name string, data []byte, prior string) (string, error) {
	c.mu.Lock()
	if prior != "" && !c.tripped[name] {
		c.tripped[name] = true
		c.mu.Unlock()
		return "", shared.ErrDocumentConflict
	}
	c.mu.Unlock()
	return c.DocumentStore.Save(ctx, name, data, prior)
}

func TestStore_ConflictReapplies(t *testing.T) {
	ctx := context.Background()
	store := &conflictOnce{DocumentStore: docstore.NewMemoryStore(), tripped: map[string]bool{}}
	s, _ := newTestStore(t, store)

	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))

	u, _ := s.User(ctx, 1)
	assert.Equal(t, int64(2), u.MessagesCount)
	assert.Equal(t, int64(2), s.Snapshot(ctx).Statistics.Totals.MessagesReceived)
	assert.False(t, s.Degraded())
	assertLedgerConsistent(t, s)
}

// scriptedStore injects one-off failures per document name.
type scriptedStore struct {
	engagement.DocumentStore
	mu sync.Mutex

	// conflicts rejects the next conditional saves with a version conflict.
	conflicts map[string]int
	// reloadFailures is added to loadFailures on every injected conflict.
	reloadFailures int
	loadFailures   map[string]int
	// lostAcks commits the next saves, then reports a timeout.
	lostAcks map[string]int
}

func newScriptedStore(next engagement.DocumentStore) *scriptedStore {
	return &scriptedStore{
		DocumentStore: next,
		conflicts:     map[string]int{},
		loadFailures:  map[string]int{},
		lostAcks:      map[string]int{},
	}
}

func (s *scriptedStore) Load(ctx context.Context, name string) (engagement.Document, error) {
	s.mu.Lock()
	if s.loadFailures[name] > 0 {
		s.loadFailures[name]--
		s.mu.Unlock()
		return engagement.Document{}, shared.NewDomainError("storage", "Load", shared.ErrStorageUnavailable, "down")
	}
	s.mu.Unlock()
	return s.DocumentStore.Load(ctx, name)
}

func (s *scriptedStore) Save(ctx context.Context, name string, data []byte, prior string) (string, error) {
	s.mu.Lock()
	if prior != "" && s.conflicts[name] > 0 {
		s.conflicts[name]--
		s.loadFailures[name] += s.reloadFailures
		s.mu.Unlock()
		return "", shared.ErrDocumentConflict
	}
	lost := s.lostAcks[name] > 0
	if lost {
		s.lostAcks[name]--
	}
	s.mu.Unlock()

	version, err := s.DocumentStore.Save(ctx, name, data, prior)
	if err == nil && lost {
		return "", shared.NewDomainError("storage", "Save", shared.ErrTimeout, "reply lost")
	}
	return version, err
}

func TestStore_LostReplyIsNotReapplied(t *testing.T) {
	t.Run("plain backend", func(t *testing.T) {
		ctx := context.Background()
		store := newScriptedStore(docstore.NewMemoryStore())
		store.lostAcks[engagement.StatisticsDocument] = 1
		s, _ := newTestStore(t, store)

		_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
		require.NoError(t, err)
		assert.True(t, s.Degraded())

		require.NoError(t, s.RecordFeedback(ctx, 1))
		assert.False(t, s.Degraded())

		u, _ := s.User(ctx, 1)
		totals := s.Snapshot(ctx).Statistics.Totals
		assert.Equal(t, int64(1), u.FeedbackCount)
		assert.Equal(t, int64(1), totals.FeedbackReceived)
		assert.Equal(t, int64(1), totals.Registered)
		assertLedgerConsistent(t, s)
	})

	t.Run("resilient decorator", func(t *testing.T) {
		ctx := context.Background()
		mem := docstore.NewMemoryStore()
		store := newScriptedStore(mem)
		s, _ := newTestStore(t, docstore.NewResilient(store, docstore.DefaultResilientConfig()))

		_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
		require.NoError(t, err)

		store.lostAcks[engagement.StatisticsDocument] = 1
		require.NoError(t, s.RecordFeedback(ctx, 1))
		require.NoError(t, s.RecordFeedback(ctx, 1))
		assert.False(t, s.Degraded())

		raw, ok := mem.Raw(engagement.StatisticsDocument)
		require.True(t, ok)
		var stored engagement.Statistics
		require.NoError(t, json.Unmarshal(raw, &stored))
		assert.Equal(t, int64(2), stored.Totals.FeedbackReceived)
		assertLedgerConsistent(t, s)
	})
}

func TestStore_ConflictThenFailedReload(t *testing.T) {
	ctx := context.Background()
	store := newScriptedStore(docstore.NewMemoryStore())
	s, _ := newTestStore(t, store)

	_, err := s.RegisterUser(ctx, 1, engagement.Profile{})
	require.NoError(t, err)

	store.conflicts[engagement.StatisticsDocument] = 1
	store.reloadFailures = 1
	require.NoError(t, s.TouchActivity(ctx, 1, engagement.ActivityMessage))
	assert.True(t, s.Degraded())

	require.NoError(t, s.Flush(ctx))
	assert.False(t, s.Degraded())

	u, _ := s.User(ctx, 1)
	assert.Equal(t, int64(1), u.MessagesCount)
	assert.Equal(t, int64(1), s.Snapshot(ctx).Statistics.Totals.MessagesReceived)
	assertLedgerConsistent(t, s)
}

func TestStore_StartedDuringOutageKeepsStoredData(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()

	first, _ := newTestStore(t, mem)
	for id := shared.UserID(1); id <= 5; id++ {
		_, err := first.RegisterUser(ctx, id, engagement.Profile{})
		require.NoError(t, err)
	}

	store := &flakyStore{DocumentStore: mem, down: true}
	s, _ := newTestStore(t, store)

	created, err := s.RegisterUser(ctx, 99, engagement.Profile{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, s.Degraded())
	assert.Error(t, s.Flush(ctx))

	raw, _ := mem.Raw(engagement.UsersDocument)
	var reg map[string]engagement.UserRecord
	require.NoError(t, json.Unmarshal(raw, &reg))
	assert.Len(t, reg, 5, "nothing is written while the store is down")

	store.setDown(false)
	require.NoError(t, s.Flush(ctx))
	assert.False(t, s.Degraded())

	raw, _ = mem.Raw(engagement.UsersDocument)
	reg = nil
	require.NoError(t, json.Unmarshal(raw, &reg))
	assert.Len(t, reg, 6)

	snap := s.Snapshot(ctx)
	assert.Len(t, snap.Users, 6)
	assert.Equal(t, int64(6), snap.Statistics.Totals.Registered)
	assertLedgerConsistent(t, s)
}
