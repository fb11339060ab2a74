// Package engagement owns the user registry and the statistics ledger.
//
// Both live as whole JSON documents in a remote DocumentStore. Every mutation
// reloads the document, applies its delta and writes the whole document back.
// Lifetime totals and per-period counters are incremented together on every
// update, so a lifetime total always equals the sum of its period counters.
package engagement

import (
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// ActivityKind classifies an inbound event for TouchActivity.
type ActivityKind string

const (
	ActivityMessage  ActivityKind = "message"
	ActivityCommand  ActivityKind = "command"
	ActivityCallback ActivityKind = "callback"
)

// Profile is optional display metadata captured on first contact.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// UserRecord is one entry of the "users" document.
type UserRecord struct {
	ID        shared.UserID `json:"id"`
	Username  string        `json:"username,omitempty"`
	FirstName string        `json:"first_name,omitempty"`
	LastName  string        `json:"last_name,omitempty"`

	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`

	Active               bool `json:"active"`
	NotificationsEnabled bool `json:"notifications_enabled"`

	MessagesCount           int64 `json:"messages_count"`
	QuestionnairesCompleted int64 `json:"questionnaires_completed"`
	FeedbackCount           int64 `json:"feedback_count"`
	BroadcastsReceived      int64 `json:"broadcasts_received"`

	QuestionnaireAnswers     map[string]string `json:"questionnaire_answers,omitempty"`
	QuestionnaireCompletedAt *time.Time        `json:"questionnaire_completed_at,omitempty"`
	LastFeedback             *time.Time        `json:"last_feedback,omitempty"`
}

// DisplayName returns the best available human-readable name.
func (u UserRecord) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return "id" + u.ID.String()
	}
}

// ActiveSince reports whether the user was seen at or after cutoff.
func (u UserRecord) ActiveSince(cutoff time.Time) bool {
	return !u.LastActivity.Before(cutoff)
}

// HasCompletedQuestionnaire reports whether a finished answer set is stored.
func (u UserRecord) HasCompletedQuestionnaire() bool {
	return len(u.QuestionnaireAnswers) > 0 && u.QuestionnaireCompletedAt != nil
}

// clone returns a deep copy so callers cannot mutate the registry.
func (u UserRecord) clone() UserRecord {
	c := u
	if u.QuestionnaireAnswers != nil {
		c.QuestionnaireAnswers = make(map[string]string, len(u.QuestionnaireAnswers))
		for k, v := range u.QuestionnaireAnswers {
			c.QuestionnaireAnswers[k] = v
		}
	}
	if u.QuestionnaireCompletedAt != nil {
		t := *u.QuestionnaireCompletedAt
		c.QuestionnaireCompletedAt = &t
	}
	if u.LastFeedback != nil {
		t := *u.LastFeedback
		c.LastFeedback = &t
	}
	return c
}

// Registry is the decoded "users" document, keyed by the decimal user id.
type Registry map[string]*UserRecord

// Get looks a user up by id.
func (r Registry) Get(id shared.UserID) (*UserRecord, bool) {
	u, ok := r[id.String()]
	return u, ok
}

// newUser builds a fresh record stamped at now.
func newUser(id shared.UserID, p Profile, now time.Time) *UserRecord {
	return &UserRecord{
		ID:                   id,
		Username:             p.Username,
		FirstName:            p.FirstName,
		LastName:             p.LastName,
		FirstSeen:            now,
		LastActivity:         now,
		Active:               true,
		NotificationsEnabled: true,
	}
}
