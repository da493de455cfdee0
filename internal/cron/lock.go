package cron

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/pkg/redis"
)

// Locker serializes job runs across instances. Acquire returns false when
// another holder owns the lock; the release func is only valid when ok.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLock is a SETNX lease with an owner token so an expired holder
// cannot release a lock that has since been re-acquired.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.client.LockKey(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		current, err := l.client.Get(context.Background(), key)
		if err != nil || current != token {
			return
		}
		_ = l.client.Del(context.Background(), key)
	}
	return release, true, nil
}

// noopLock runs jobs unguarded. Used when Redis is not configured.
type noopLock struct{}

func (noopLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// NewNoopLock returns a locker that always grants the lock.
func NewNoopLock() Locker {
	return noopLock{}
}
