package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
)

const (
	selectDocument = `SELECT data, version FROM documents WHERE name=$1`
	lockDocument   = `SELECT version FROM documents WHERE name=$1 FOR UPDATE`
	insertDocument = `INSERT INTO documents (name, data, version) VALUES ($1,$2,$3)`
	updateDocument = `UPDATE documents SET data=$2, version=$3, updated_at=NOW() WHERE name=$1`
)

// DocumentStore implements engagement.DocumentStore on the documents table.
type DocumentStore struct {
	db     *DB
	logger *slog.Logger
}

// NewDocumentStore creates a store over db.
func NewDocumentStore(db *DB, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{db: db, logger: logger.With(slog.String("backend", "postgres"))}
}

// Load implements engagement.DocumentStore.
func (s *DocumentStore) Load(ctx context.Context, name string) (engagement.Document, error) {
	pool, err := s.db.acquire()
	if err != nil {
		return engagement.Document{}, unavailable("Load", err)
	}

	doc := engagement.Document{Name: name}
	if err := pool.QueryRow(ctx, selectDocument, name).Scan(&doc.Data, &doc.Version); err != nil {
		if IsNoRows(err) {
			return engagement.Document{}, shared.ErrDocumentNotFound
		}
		return engagement.Document{}, unavailable("Load", err)
	}
	return doc, nil
}

// Save implements engagement.DocumentStore. The row is locked for the
// duration of the version check so concurrent writers serialize.
func (s *DocumentStore) Save(ctx context.Context, name string, data []byte, priorVersion string) (string, error) {
	version := docstore.ContentVersion(data)

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var current string
		scanErr := tx.QueryRow(ctx, lockDocument, name).Scan(&current)
		switch {
		case scanErr == nil:
			if priorVersion != "" && current != priorVersion {
				return shared.ErrDocumentConflict
			}
			_, err := tx.Exec(ctx, updateDocument, name, data, version)
			return err
		case IsNoRows(scanErr):
			_, err := tx.Exec(ctx, insertDocument, name, data, version)
			if IsUniqueViolation(err) {
				// Another writer created the row after our lock query.
				return shared.ErrDocumentConflict
			}
			return err
		default:
			return scanErr
		}
	})
	if err != nil {
		if errors.Is(err, shared.ErrDocumentConflict) {
			return "", shared.ErrDocumentConflict
		}
		s.logger.Warn("document save failed", slog.String("document", name), slog.String("error", err.Error()))
		return "", unavailable("Save", err)
	}
	return version, nil
}

func unavailable(op string, err error) error {
	return shared.WrapError("storage", op, shared.ErrStorageUnavailable, "postgres request failed", err)
}
