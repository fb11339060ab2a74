package questionnaire

import (
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// Session is the in-progress state of one user's form.
type Session struct {
	UserID    shared.UserID
	Index     int
	Answers   map[string]string
	StartedAt time.Time
	TouchedAt time.Time
	ExpiresAt time.Time
}

// SessionTableConfig bounds the table.
type SessionTableConfig struct {
	// TTL is how long a session survives without an answer.
	TTL time.Duration
	// MaxSessions caps the table; the least recently touched session is
	// evicted when a new one would exceed it.
	MaxSessions int
	Now         func() time.Time
}

// DefaultSessionTableConfig returns production defaults.
func DefaultSessionTableConfig() SessionTableConfig {
	return SessionTableConfig{
		TTL:         30 * time.Minute,
		MaxSessions: 10000,
		Now:         time.Now,
	}
}

// SessionTable holds open sessions in memory. Sessions are lost on restart.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[shared.UserID]*Session
	ttl      time.Duration
	max      int
	now      func() time.Time
}

// NewSessionTable creates a table.
func NewSessionTable(cfg SessionTableConfig) *SessionTable {
	def := DefaultSessionTableConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &SessionTable{
		sessions: make(map[shared.UserID]*Session),
		ttl:      cfg.TTL,
		max:      cfg.MaxSessions,
		now:      cfg.Now,
	}
}

// Open replaces any session of id with a fresh one at index 0. It returns
// the id of a session evicted to make room, if any.
func (t *SessionTable) Open(id shared.UserID) (Session, *shared.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var evicted *shared.UserID
	if _, exists := t.sessions[id]; !exists && len(t.sessions) >= t.max {
		t.sweepLocked(now)
		if len(t.sessions) >= t.max {
			victim := t.oldestLocked()
			delete(t.sessions, victim)
			evicted = &victim
		}
	}

	s := &Session{
		UserID:    id,
		Answers:   make(map[string]string),
		StartedAt: now,
		TouchedAt: now,
		ExpiresAt: now.Add(t.ttl),
	}
	t.sessions[id] = s
	return s.copy(), evicted
}

// Get returns a copy of the live session of id. An expired session is
// removed and reported through ErrSessionExpired.
func (t *SessionTable) Get(id shared.UserID) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return Session{}, shared.ErrNoActiveSession
	}
	if !t.now().Before(s.ExpiresAt) {
		delete(t.sessions, id)
		return Session{}, shared.ErrSessionExpired
	}
	return s.copy(), nil
}

// Put stores s back and extends its expiry.
func (t *SessionTable) Put(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s.TouchedAt = now
	s.ExpiresAt = now.Add(t.ttl)
	cp := s.copy()
	t.sessions[s.UserID] = &cp
}

// Delete drops the session of id and reports whether one existed.
func (t *SessionTable) Delete(id shared.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.sessions[id]
	delete(t.sessions, id)
	return ok
}

// Sweep removes expired sessions and returns how many were removed.
func (t *SessionTable) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sweepLocked(t.now())
}

// Len returns the number of stored sessions, expired ones included.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}

func (t *SessionTable) sweepLocked(now time.Time) int {
	removed := 0
	for id, s := range t.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

func (t *SessionTable) oldestLocked() shared.UserID {
	var (
		victim shared.UserID
		oldest time.Time
		first  = true
	)
	for id, s := range t.sessions {
		if first || s.TouchedAt.Before(oldest) || (s.TouchedAt.Equal(oldest) && id < victim) {
			victim, oldest, first = id, s.TouchedAt, false
		}
	}
	return victim
}

func (s *Session) copy() Session {
	c := *s
	c.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return c
}
