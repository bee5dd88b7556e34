package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/kursadbilgin/promo-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 2 * time.Minute

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker hands out redislock locks under a fixed key prefix.
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *goredis.Client, prefix string, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{
		client: redislock.New(client),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Obtain takes the lock without waiting. lock.ErrNotObtained means another
// holder owns it.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (lock.Lock, error) {
	held, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, lock.ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return &redisLock{lock: held, ttl: l.ttl}, nil
}

type redisLock struct {
	lock *redislock.Lock
	ttl  time.Duration
}

func (l *redisLock) Refresh(ctx context.Context) error {
	if err := l.lock.Refresh(ctx, l.ttl, nil); err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return lock.ErrNotObtained
		}
		return fmt.Errorf("failed to refresh lock: %w", err)
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
