// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"xray-inference/internal/domain/ports/repository"
	"xray-inference/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

// RedisLocker implements a non-blocking SETNX lock.
// With lease == 0 the record never expires: a holder that crashes before
// Release keeps the lock forever. A positive lease makes it reclaimable.
type RedisLocker struct {
	client *Client
	lease  time.Duration
}

func NewLocker(c *Client, lease time.Duration) *RedisLocker {
	if lease < 0 {
		lease = 0
	}
	return &RedisLocker{client: c, lease: lease}
}

// TryAcquire returns the holder token, or "" if someone else holds the lock.
func (l *RedisLocker) TryAcquire(ctx context.Context, name string) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.cli.SetNX(ctx, l.client.key(name), token, l.lease).Result()
	if err != nil {
		metrics.IncLockAcquire(name, "error")
		return "", err
	}
	if !ok {
		metrics.IncLockAcquire(name, "held")
		return "", nil
	}
	metrics.IncLockAcquire(name, "acquired")
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Release deletes the record only while it still holds token, so a holder
// whose lease lapsed never removes a successor's record. With an empty
// token the record is deleted unconditionally.
func (l *RedisLocker) Release(ctx context.Context, name, token string) error {
	key := l.client.key(name)
	if token == "" {
		return l.client.cli.Del(ctx, key).Err()
	}
	return luaUnlock.Run(ctx, l.client.cli, []string{key}, token).Err()
}
