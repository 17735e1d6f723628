package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every service instance using the same Redis.
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	retry     time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder can block others.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		retry:     25 * time.Millisecond,
		keyPrefix: "ferry:booking-lock:",
		logger:    logger,
	}
}

func (l *RedisLocker) key(bookingID int64) string {
	return fmt.Sprintf("%s%d", l.keyPrefix, bookingID)
}

// Acquire implements Locker using SET NX PX, polling until ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, bookingID int64) (Release, error) {
	key := l.key(bookingID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(key, token string) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release booking lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}
}
