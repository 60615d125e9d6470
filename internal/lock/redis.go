package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding ranking runs.
const DefaultKey = "guiderank:run-lock"

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every ranker instance using the same
// Redis. It uses SET NX PX with a random owner token.
type RedisLocker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a RedisLocker. Empty key and zero ttl use defaults.
func NewRedisLocker(client redis.Cmdable, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// TryAcquire implements Locker.
func (l *RedisLocker) TryAcquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
