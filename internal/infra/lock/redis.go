package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker реализует domain.Locker через SET NX PX.
type RedisLocker struct {
	client *redis.Client
	retry  time.Duration
}

// NewRedis создаёт блокировщик.
func NewRedis(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, retry: 100 * time.Millisecond}
}

// Lock ждёт освобождения ключа до отмены ctx. Блокировка снимается сама по истечении ttl.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	for {
		start := time.Now()
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		metrics.ObserveNetworkRequest("redis_lock", "acquire", key, start, err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("блокировка %s: %w", key, err)
		}
		if ok {
			return l.release(key, token), nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		start := time.Now()
		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		metrics.ObserveNetworkRequest("redis_lock", "release", key, start, err)
	}
}
