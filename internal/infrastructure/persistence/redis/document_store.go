package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
)

// Hash fields of a document key.
const (
	fieldData    = "data"
	fieldVersion = "version"
)

// saveScript writes data and version unless a non-empty prior version
// (ARGV[3]) disagrees with the stored one. Returns 1 on write, 0 on conflict.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if ARGV[3] ~= '' and cur and cur ~= ARGV[3] then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', ARGV[2])
return 1
`)

// DocumentStore implements engagement.DocumentStore with one hash per document.
type DocumentStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewDocumentStore creates a store; keys are "<prefix>doc:<name>".
func NewDocumentStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("backend", "redis")),
	}
}

// DocumentKey returns the key holding the named document.
func (s *DocumentStore) DocumentKey(name string) string {
	return s.prefix + PrefixDocument + name
}

// Load implements engagement.DocumentStore.
func (s *DocumentStore) Load(ctx context.Context, name string) (engagement.Document, error) {
	vals, err := s.client.HMGet(ctx, s.DocumentKey(name), fieldData, fieldVersion).Result()
	if err != nil {
		return engagement.Document{}, unavailable("Load", err)
	}

	data, okData := vals[0].(string)
	version, okVersion := vals[1].(string)
	if !okData || !okVersion {
		return engagement.Document{}, shared.ErrDocumentNotFound
	}
	return engagement.Document{Name: name, Data: []byte(data), Version: version}, nil
}

// Save implements engagement.DocumentStore. The version check and the write
// run atomically inside a Lua script.
func (s *DocumentStore) Save(ctx context.Context, name string, data []byte, priorVersion string) (string, error) {
	version := docstore.ContentVersion(data)

	written, err := saveScript.Run(ctx, s.client, []string{s.DocumentKey(name)}, data, version, priorVersion).Int()
	if err != nil {
		s.logger.Warn("document save failed", slog.String("document", name), slog.String("error", err.Error()))
		return "", unavailable("Save", err)
	}
	if written == 0 {
		return "", shared.ErrDocumentConflict
	}
	return version, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("storage", op, shared.ErrTimeout, "redis request timed out", err)
	}
	return shared.WrapError("storage", op, shared.ErrStorageUnavailable, "redis request failed", err)
}
