package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lock coordinates exclusive job runs across cron instances. TryAcquire does
// not wait: a held lock means another instance owns the run.
type Lock interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	LockKey(name string) string
}

// RedisLock implements Lock using Redis SETNX + TTL with owner-checked
// release.
type RedisLock struct {
	client redisStore
}

func NewRedisLock(client redisStore) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	return &RedisLock{client: client}, nil
}

func (l *RedisLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if name == "" {
		return nil, false, errors.New("lock name is required")
	}
	key := l.client.LockKey("cron:" + name)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = l.client.CompareAndDelete(releaseCtx, key, owner)
	}
	return release, true, nil
}
