package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
)

func newStore(t *testing.T) (*DocumentStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewDocumentStore(NewDB(mock), nil), mock
}

func TestDocumentStore_Load_OK(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT data, version FROM documents WHERE name=\$1`).
		WithArgs("users").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow([]byte(`{"1":{}}`), "v1"))

	doc, err := s.Load(context.Background(), "users")
	require.NoError(t, err)
	require.Equal(t, "users", doc.Name)
	require.Equal(t, "v1", doc.Version)
	require.JSONEq(t, `{"1":{}}`, string(doc.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Load_NotFound(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT data, version FROM documents WHERE name=\$1`).
		WithArgs("statistics").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Load(context.Background(), "statistics")
	require.ErrorIs(t, err, shared.ErrDocumentNotFound)
}

func TestDocumentStore_Load_Unavailable(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT data, version FROM documents`).
		WithArgs("users").
		WillReturnError(errors.New("connection refused"))

	_, err := s.Load(context.Background(), "users")
	require.True(t, shared.IsStorageUnavailable(err))
	require.False(t, shared.IsNotFound(err))
}

func TestDocumentStore_Save_Create(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()
	data := []byte(`{"registered":1}`)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM documents WHERE name=\$1 FOR UPDATE`).
		WithArgs("statistics").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO documents \(name, data, version\) VALUES \(\$1,\$2,\$3\)`).
		WithArgs("statistics", data, docstore.ContentVersion(data)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	v, err := s.Save(context.Background(), "statistics", data, "")
	require.NoError(t, err)
	require.Equal(t, docstore.ContentVersion(data), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Save_Update(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()
	data := []byte(`{"registered":2}`)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM documents WHERE name=\$1 FOR UPDATE`).
		WithArgs("statistics").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("v1"))
	mock.ExpectExec(`UPDATE documents SET data=\$2, version=\$3, updated_at=NOW\(\) WHERE name=\$1`).
		WithArgs("statistics", data, docstore.ContentVersion(data)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := s.Save(context.Background(), "statistics", data, "v1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Save_Conflict(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM documents WHERE name=\$1 FOR UPDATE`).
		WithArgs("users").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("v2"))
	mock.ExpectRollback()

	_, err := s.Save(context.Background(), "users", []byte(`{}`), "v1")
	require.ErrorIs(t, err, shared.ErrDocumentConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Save_UnconditionalOverwrite(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()
	data := []byte(`{}`)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM documents WHERE name=\$1 FOR UPDATE`).
		WithArgs("users").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("v9"))
	mock.ExpectExec(`UPDATE documents`).
		WithArgs("users", data, docstore.ContentVersion(data)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := s.Save(context.Background(), "users", data, "")
	require.NoError(t, err)
}

func TestDocumentStore_Save_BeginFails(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := s.Save(context.Background(), "users", []byte(`{}`), "")
	require.True(t, shared.IsStorageUnavailable(err))
}

func TestDocumentStore_ClosedDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	db := NewDB(mock)
	db.Close()

	s := NewDocumentStore(db, nil)
	_, err = s.Load(context.Background(), "users")
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.True(t, shared.IsStorageUnavailable(err))
}

func TestMigrator_Migrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	m := NewMigrator(NewDB(mock))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(version, name\) VALUES \(\$1, \$2\)`).
		WithArgs(1, "create_documents").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, m.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_SkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	m := NewMigrator(NewDB(mock))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))

	require.NoError(t, m.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
