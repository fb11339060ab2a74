package questionnaire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTable(max int, ttl time.Duration) (*SessionTable, *manualClock) {
	clock := &manualClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	return NewSessionTable(SessionTableConfig{TTL: ttl, MaxSessions: max, Now: clock.Now}), clock
}

func TestSessionTable_Expiry(t *testing.T) {
	table, clock := newTable(10, time.Minute)

	table.Open(1)
	_, err := table.Get(1)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = table.Get(1)
	assert.ErrorIs(t, err, shared.ErrSessionExpired)
	assert.Equal(t, 0, table.Len())

	_, err = table.Get(1)
	assert.ErrorIs(t, err, shared.ErrNoActiveSession)
}

func TestSessionTable_PutExtendsExpiry(t *testing.T) {
	table, clock := newTable(10, time.Minute)

	s, _ := table.Open(1)
	clock.Advance(50 * time.Second)
	s.Index = 3
	table.Put(s)

	clock.Advance(50 * time.Second)
	got, err := table.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Index)
}

func TestSessionTable_EvictsExpiredFirst(t *testing.T) {
	table, clock := newTable(2, time.Minute)

	table.Open(1)
	clock.Advance(30 * time.Second)
	table.Open(2)
	clock.Advance(45 * time.Second) // 1 expired, 2 alive

	_, evicted := table.Open(3)
	assert.Nil(t, evicted)
	assert.Equal(t, 2, table.Len())

	_, err := table.Get(2)
	assert.NoError(t, err)
}

func TestSessionTable_EvictsLeastRecentlyTouched(t *testing.T) {
	table, clock := newTable(2, time.Hour)

	s1, _ := table.Open(1)
	clock.Advance(time.Second)
	table.Open(2)
	clock.Advance(time.Second)
	table.Put(s1) // 1 is now the freshest

	_, evicted := table.Open(3)
	require.NotNil(t, evicted)
	assert.Equal(t, shared.UserID(2), *evicted)

	_, err := table.Get(1)
	assert.NoError(t, err)
	_, err = table.Get(3)
	assert.NoError(t, err)
}

func TestSessionTable_ReopenDoesNotEvict(t *testing.T) {
	table, _ := newTable(1, time.Hour)

	table.Open(1)
	_, evicted := table.Open(1)
	assert.Nil(t, evicted)
	assert.Equal(t, 1, table.Len())
}

func TestSessionTable_Sweep(t *testing.T) {
	table, clock := newTable(10, time.Minute)

	table.Open(1)
	table.Open(2)
	clock.Advance(2 * time.Minute)
	table.Open(3)

	assert.Equal(t, 2, table.Sweep())
	assert.Equal(t, 1, table.Len())
}

func TestSessionTable_GetReturnsCopy(t *testing.T) {
	table, _ := newTable(10, time.Minute)

	table.Open(1)
	s, err := table.Get(1)
	require.NoError(t, err)
	s.Answers["x"] = "y"

	again, err := table.Get(1)
	require.NoError(t, err)
	assert.Empty(t, again.Answers)
}
