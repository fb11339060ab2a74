package docstore

import (
	"context"
	"sync"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// MemoryStore keeps documents in process memory. It backs tests and the
// STORAGE_BACKEND=memory mode.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]engagement.Document
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]engagement.Document)}
}

// Load implements engagement.DocumentStore.
func (m *MemoryStore) Load(ctx context.Context, name string) (engagement.Document, error) {
	if err := ctx.Err(); err != nil {
		return engagement.Document{}, shared.WrapError("storage", "Load", shared.ErrStorageUnavailable, "context done", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[name]
	if !ok {
		return engagement.Document{}, shared.ErrDocumentNotFound
	}
	doc.Data = append([]byte(nil), doc.Data...)
	return doc, nil
}

// Save implements engagement.DocumentStore.
func (m *MemoryStore) Save(ctx context.Context, name string, data []byte, priorVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", shared.WrapError("storage", "Save", shared.ErrStorageUnavailable, "context done", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.docs[name]; ok && priorVersion != "" && cur.Version != priorVersion {
		return "", shared.ErrDocumentConflict
	}

	version := ContentVersion(data)
	m.docs[name] = engagement.Document{
		Name:    name,
		Data:    append([]byte(nil), data...),
		Version: version,
	}
	return version, nil
}

// Raw returns the stored bytes of name. Used by tests and the JSON export.
func (m *MemoryStore) Raw(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), doc.Data...), true
}
