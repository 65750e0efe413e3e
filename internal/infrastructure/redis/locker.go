package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "ledger-sync:lock:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants job leases with SET NX PX.
type Locker struct {
	client goredis.UniversalClient
}

func NewLocker(client goredis.UniversalClient) *Locker {
	return &Locker{client: client}
}

func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Unlock(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

func lockKey(name string) string {
	return lockKeyPrefix + name
}
