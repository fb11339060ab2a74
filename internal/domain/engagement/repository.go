package engagement

import (
	"context"
)

// Document names used in the backing store.
const (
	UsersDocument      = "users"
	StatisticsDocument = "statistics"
)

// Document is one named JSON blob together with its version token.
type Document struct {
	Name    string
	Data    []byte
	Version string
}

// DocumentStore is the remote key/blob store holding the two documents.
//
// Load returns shared.ErrDocumentNotFound when the name has never been saved.
// Save is create-or-update; when priorVersion is non-empty and differs from
// the stored version the store returns shared.ErrDocumentConflict. Any other
// failure should match shared.ErrStorageUnavailable.
type DocumentStore interface {
	Load(ctx context.Context, name string) (Document, error)
	Save(ctx context.Context, name string, data []byte, priorVersion string) (version string, err error)
}
