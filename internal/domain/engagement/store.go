package engagement

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Clock resolves "now" and period ids. Defaults to a Moscow clock.
	Clock *period.Clock

	// ConflictRetries bounds reload-and-reapply cycles when the document
	// store reports a version conflict. Zero means the second write is
	// unconditional.
	ConflictRetries int

	Logger *slog.Logger
}

// Store is the engagement ledger. It is safe for concurrent use inside one
// process; it does not coordinate with other processes beyond the version
// token checks of the DocumentStore.
type Store struct {
	mu     sync.Mutex
	clock  *period.Clock
	logger *slog.Logger

	users *document[Registry]
	stats *document[*Statistics]
}

// NewStore creates a Store over docs. Nothing is loaded until the first call.
func NewStore(docs DocumentStore, cfg StoreConfig) *Store {
	if cfg.Clock == nil {
		cfg.Clock = period.NewClock(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	logger := cfg.Logger.With(slog.String("component", "engagement_store"))

	return &Store{
		clock:  cfg.Clock,
		logger: logger,
		users: &document[Registry]{
			name:    UsersDocument,
			store:   docs,
			logger:  logger,
			empty:   func() Registry { return Registry{} },
			decode:  decodeRegistry,
			retries: cfg.ConflictRetries,
		},
		stats: &document[*Statistics]{
			name:    StatisticsDocument,
			store:   docs,
			logger:  logger,
			empty:   NewStatistics,
			decode:  decodeStatistics,
			retries: cfg.ConflictRetries,
		},
	}
}

// Clock returns the clock the store stamps events with.
func (s *Store) Clock() *period.Clock {
	return s.clock
}

// ═══════════════════════════════════════════════════════════════════════════
// Mutations
// ═══════════════════════════════════════════════════════════════════════════

// RegisterUser creates the user on first contact. It returns false without
// touching any counter when the id is already known.
func (s *Store) RegisterUser(ctx context.Context, id shared.UserID, profile Profile) (bool, error) {
	if !id.IsValid() {
		return false, shared.NewDomainError("engagement", "RegisterUser", shared.ErrValidation, "invalid user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var created bool
	s.users.update(ctx, func(r Registry) bool {
		if _, ok := r.Get(id); ok {
			created = false
			return false
		}
		r[id.String()] = newUser(id, profile, now)
		created = true
		return true
	})
	if !created {
		return false, nil
	}

	current := s.clock.At(now)
	s.stats.update(ctx, func(st *Statistics) bool {
		st.Increment(current, MetricRegistered, 1)
		st.Increment(current, MetricActiveUsers, 1)
		return true
	})

	s.logger.Info("user registered",
		slog.Int64("user_id", id.Int64()),
		slog.String("period", current.ID),
	)
	return true, nil
}

// TouchActivity stamps last_activity and marks the user active. Messages
// also bump messages_count and messages_received. The first activity of a
// user inside a period bumps active_users for that period.
func (s *Store) TouchActivity(ctx context.Context, id shared.UserID, kind ActivityKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	current := s.clock.At(now)

	var known, firstInPeriod bool
	s.users.update(ctx, func(r Registry) bool {
		u, ok := r.Get(id)
		known = ok
		if !ok {
			return false
		}
		firstInPeriod = !current.Contains(u.LastActivity)
		if now.After(u.LastActivity) {
			u.LastActivity = now
		}
		u.Active = true
		if kind == ActivityMessage {
			u.MessagesCount++
		}
		return true
	})
	if !known {
		return s.unknownUser("TouchActivity", id)
	}

	if kind != ActivityMessage && !firstInPeriod {
		return nil
	}
	s.stats.update(ctx, func(st *Statistics) bool {
		if kind == ActivityMessage {
			st.Increment(current, MetricMessagesReceived, 1)
		}
		if firstInPeriod {
			st.Increment(current, MetricActiveUsers, 1)
		}
		return true
	})
	return nil
}

// RecordQuestionnaireCompletion stores the finished answer set. Unknown ids
// are ignored and reported with shared.ErrUnknownUser.
func (s *Store) RecordQuestionnaireCompletion(ctx context.Context, id shared.UserID, answers map[string]string) error {
	if len(answers) == 0 {
		return shared.NewDomainError("engagement", "RecordQuestionnaireCompletion", shared.ErrEmptyValue, "empty answer set")
	}
	stored := make(map[string]string, len(answers))
	for k, v := range answers {
		stored[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var known bool
	s.users.update(ctx, func(r Registry) bool {
		u, ok := r.Get(id)
		known = ok
		if !ok {
			return false
		}
		completedAt := now
		u.QuestionnaireAnswers = stored
		u.QuestionnaireCompletedAt = &completedAt
		u.QuestionnairesCompleted++
		return true
	})
	if !known {
		return s.unknownUser("RecordQuestionnaireCompletion", id)
	}

	current := s.clock.At(now)
	s.stats.update(ctx, func(st *Statistics) bool {
		st.Increment(current, MetricQuestionnaires, 1)
		return true
	})

	s.logger.Info("questionnaire completed",
		slog.Int64("user_id", id.Int64()),
		slog.String("period", current.ID),
	)
	return nil
}

// RecordFeedback counts one feedback message from the user.
func (s *Store) RecordFeedback(ctx context.Context, id shared.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var known bool
	s.users.update(ctx, func(r Registry) bool {
		u, ok := r.Get(id)
		known = ok
		if !ok {
			return false
		}
		at := now
		u.FeedbackCount++
		u.LastFeedback = &at
		return true
	})
	if !known {
		return s.unknownUser("RecordFeedback", id)
	}

	current := s.clock.At(now)
	s.stats.update(ctx, func(st *Statistics) bool {
		st.Increment(current, MetricFeedbackReceived, 1)
		return true
	})
	return nil
}

// RecordBroadcast credits one broadcast to every known id and adds len(ids)
// to broadcasts_sent. Callers decide which ids count as sent.
func (s *Store) RecordBroadcast(ctx context.Context, ids []shared.UserID) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var unknown int
	s.users.update(ctx, func(r Registry) bool {
		unknown = 0
		changed := false
		for _, id := range ids {
			u, ok := r.Get(id)
			if !ok {
				unknown++
				continue
			}
			u.BroadcastsReceived++
			changed = true
		}
		return changed
	})
	if unknown > 0 {
		s.logger.Warn("broadcast receipts for unregistered users ignored",
			slog.Int("unknown", unknown),
			slog.Int("total", len(ids)),
		)
	}

	current := s.clock.At(now)
	s.stats.update(ctx, func(st *Statistics) bool {
		st.Increment(current, MetricBroadcastsSent, int64(len(ids)))
		return true
	})
	return nil
}

// ToggleNotifications flips notifications_enabled and returns the new value.
func (s *Store) ToggleNotifications(ctx context.Context, id shared.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var known, enabled bool
	s.users.update(ctx, func(r Registry) bool {
		u, ok := r.Get(id)
		known = ok
		if !ok {
			return false
		}
		u.NotificationsEnabled = !u.NotificationsEnabled
		enabled = u.NotificationsEnabled
		return true
	})
	if !known {
		return false, s.unknownUser("ToggleNotifications", id)
	}
	return enabled, nil
}

// MarkStaleInactive flips active to false for users not seen for more than
// cutoffDays. Counters are untouched. The registry is written once.
func (s *Store) MarkStaleInactive(ctx context.Context, cutoffDays int) (int, error) {
	if cutoffDays <= 0 {
		return 0, shared.NewDomainError("engagement", "MarkStaleInactive", shared.ErrValidation, "cutoff must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -cutoffDays)
	var flipped int
	s.users.update(ctx, func(r Registry) bool {
		flipped = 0
		for _, u := range r {
			if u.Active && u.LastActivity.Before(cutoff) {
				u.Active = false
				flipped++
			}
		}
		return flipped > 0
	})

	s.logger.Info("stale users marked inactive",
		slog.Int("count", flipped),
		slog.Int("cutoff_days", cutoffDays),
	)
	return flipped, nil
}

// Flush retries any write that failed earlier.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.users.flush(ctx), s.stats.flush(ctx))
}

// Degraded reports whether some state has not reached the document store.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.users.dirty() || s.stats.dirty()
}

// ═══════════════════════════════════════════════════════════════════════════
// Queries
// ═══════════════════════════════════════════════════════════════════════════

// User returns a copy of one record.
func (s *Store) User(ctx context.Context, id shared.UserID) (UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users.refresh(ctx)
	u, ok := s.users.value.Get(id)
	if !ok {
		return UserRecord{}, false
	}
	return u.clone(), true
}

// QueryActiveUsers returns users with notifications enabled that were seen in
// the last windowDays, ordered by id.
func (s *Store) QueryActiveUsers(ctx context.Context, windowDays int) []UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users.refresh(ctx)
	cutoff := s.clock.Now().AddDate(0, 0, -windowDays)

	out := make([]UserRecord, 0)
	for _, u := range s.users.value {
		if u.NotificationsEnabled && u.ActiveSince(cutoff) {
			out = append(out, u.clone())
		}
	}
	sortUsers(out)
	return out
}

// ComputeActivityMetrics aggregates the registry over a trailing window.
func (s *Store) ComputeActivityMetrics(ctx context.Context, windowDays int) ActivityMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users.refresh(ctx)
	return ComputeMetrics(s.usersLocked(), s.clock.Now(), windowDays)
}

// Snapshot returns a consistent deep copy of both documents.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users.refresh(ctx)
	s.stats.refresh(ctx)

	now := s.clock.Now()
	return Snapshot{
		TakenAt:       now,
		CurrentPeriod: s.clock.At(now),
		Statistics:    s.stats.value.clone(),
		Users:         s.usersLocked(),
	}
}

func (s *Store) usersLocked() []UserRecord {
	out := make([]UserRecord, 0, len(s.users.value))
	for _, u := range s.users.value {
		out = append(out, u.clone())
	}
	sortUsers(out)
	return out
}

func (s *Store) unknownUser(op string, id shared.UserID) error {
	s.logger.Warn("mutation for unregistered user ignored",
		slog.String("op", op),
		slog.Int64("user_id", id.Int64()),
	)
	return shared.NewDomainError("engagement", op, shared.ErrUnknownUser, "user is not registered")
}

func sortUsers(users []UserRecord) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

// Snapshot is a read-only view used by reports.
type Snapshot struct {
	TakenAt       time.Time
	CurrentPeriod period.Period
	Statistics    *Statistics
	Users         []UserRecord
}
