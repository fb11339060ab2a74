// Package jobs contains the scheduled engagement jobs: broadcasts, admin
// reports and the periodic sweeps.
package jobs

import (
	"context"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/messaging"
)

// Deliverer sends one text to many chats. Implemented by *messaging.Dispatcher.
type Deliverer interface {
	SendAll(ctx context.Context, recipients []shared.UserID, text string) messaging.BatchResult
}

// SnapshotSource exposes a read-only view of the ledger.
type SnapshotSource interface {
	Snapshot(ctx context.Context) engagement.Snapshot
}

// BroadcastStore is the part of *engagement.Store the broadcast job needs.
type BroadcastStore interface {
	QueryActiveUsers(ctx context.Context, windowDays int) []engagement.UserRecord
	RecordBroadcast(ctx context.Context, ids []shared.UserID) error
}

// InactivityMarker is implemented by *engagement.Store.
type InactivityMarker interface {
	MarkStaleInactive(ctx context.Context, cutoffDays int) (int, error)
}

// SessionSweeper is implemented by *questionnaire.Engine.
type SessionSweeper interface {
	SweepExpired() int
	OpenSessions() int
}

// Flusher is implemented by *engagement.Store.
type Flusher interface {
	Flush(ctx context.Context) error
	Degraded() bool
}
