package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

const (
	lockKeyPrefix     = "lock:slot:"
	defaultRetryDelay = 25 * time.Millisecond
)

// SlotLocker is a token lock per key in Redis. Waiters poll with SetNX until
// the lock frees up or their context ends; the holder's critical section is
// bounded by the lock TTL.
type SlotLocker struct {
	client     *redis.Client
	ttl        time.Duration
	wait       time.Duration
	retryDelay time.Duration
	log        *zap.Logger
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key.
// wait bounds how long a caller queues for a busy lock.
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration, log *zap.Logger) *SlotLocker {
	return &SlotLocker{
		client:     client,
		ttl:        ttl,
		wait:       wait,
		retryDelay: defaultRetryDelay,
		log:        log,
	}
}

func lockKey(key string) string {
	return lockKeyPrefix + key
}

func (l *SlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := lockKey(key)
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// Release even if the caller's context is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.release(releaseCtx, redisKey, token); err != nil {
			l.log.Warn("failed to release slot lock", zap.String("key", redisKey), zap.Error(err))
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *SlotLocker) acquire(ctx context.Context, key, token string) error {
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrLockNotAcquired, waitCtx.Err())
			}
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			l.log.Debug("slot lock wait expired", zap.String("key", key))
			return fmt.Errorf("%w: %w", ErrLockNotAcquired, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *SlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
