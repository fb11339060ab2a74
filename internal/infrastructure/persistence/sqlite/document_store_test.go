package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

func openTempStore(t *testing.T) *DocumentStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "engagement.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "users")
	require.ErrorIs(t, err, shared.ErrDocumentNotFound)

	v1, err := s.Save(ctx, "users", []byte(`{"1":{}}`), "")
	require.NoError(t, err)

	doc, err := s.Load(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, v1, doc.Version)
	assert.Equal(t, `{"1":{}}`, string(doc.Data))
}

func TestDocumentStore_Conflict(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	v1, err := s.Save(ctx, "statistics", []byte(`{"a":1}`), "")
	require.NoError(t, err)
	_, err = s.Save(ctx, "statistics", []byte(`{"a":2}`), v1)
	require.NoError(t, err)

	_, err = s.Save(ctx, "statistics", []byte(`{"a":3}`), v1)
	require.ErrorIs(t, err, shared.ErrDocumentConflict)

	doc, err := s.Load(ctx, "statistics")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(doc.Data))
}

func TestDocumentStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engagement.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Save(ctx, "users", []byte(`{}`), "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Load(ctx, "users")
	assert.NoError(t, err)
}

func TestDocumentStore_ClosedIsUnavailable(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "engagement.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Load(context.Background(), "users")
	assert.True(t, shared.IsStorageUnavailable(err))
}
