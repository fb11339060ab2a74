package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks so that only one bot
// instance runs a scheduled job at a time.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a locker; keys are "<prefix>lock:<resource>".
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock acquires resource for ttl. When the lock is held elsewhere it
// returns ok=false and a nil release.
func (l *Locker) TryLock(ctx context.Context, resource string, ttl time.Duration) (release func(), ok bool, err error) {
	key := l.prefix + PrefixLock + resource
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}
