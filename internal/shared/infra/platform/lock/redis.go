package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Compare-and-delete: no borramos un lock que ya caducó y tomó otro.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}
	return release, true, nil
}

var _ Locker = (*RedisLocker)(nil)
