// Package sqlite stores the engagement documents in a local SQLite file.
// It suits single-host deployments that want durability without a server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	version TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// DocumentStore implements engagement.DocumentStore on a SQLite file.
type DocumentStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*DocumentStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time keeps the version check and the write together.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DocumentStore{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *DocumentStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load implements engagement.DocumentStore.
func (s *DocumentStore) Load(ctx context.Context, name string) (engagement.Document, error) {
	doc := engagement.Document{Name: name}
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE name = ?`, name).
		Scan(&doc.Data, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return engagement.Document{}, shared.ErrDocumentNotFound
	}
	if err != nil {
		return engagement.Document{}, unavailable("Load", err)
	}
	return doc, nil
}

// Save implements engagement.DocumentStore.
func (s *DocumentStore) Save(ctx context.Context, name string, data []byte, priorVersion string) (version string, err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", unavailable("Save", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			version, err = "", unavailable("Save", e)
		}
	}()

	var current string
	scanErr := tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE name = ?`, name).Scan(&current)
	switch {
	case scanErr == nil:
		if priorVersion != "" && current != priorVersion {
			return "", shared.ErrDocumentConflict
		}
	case errors.Is(scanErr, sql.ErrNoRows):
	default:
		return "", unavailable("Save", scanErr)
	}

	version = docstore.ContentVersion(data)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (name, data, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, version = excluded.version, updated_at = excluded.updated_at`,
		name, data, version, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return "", unavailable("Save", err)
	}
	return version, nil
}

func unavailable(op string, err error) error {
	return shared.WrapError("storage", op, shared.ErrStorageUnavailable, "sqlite request failed", err)
}
