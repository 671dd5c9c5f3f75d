// Package lock provides a Redis-backed mutual exclusion lock with bounded
// acquisition and owner-checked release.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/logger"
)

const (
	defaultTimeout       = 12 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// Store is the subset of the Redis client the lock relies on.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	LockKey(name string) string
}

// Locker runs callbacks while holding a named lock.
type Locker interface {
	WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error
}

// Leaser holds a lock whose TTL may exceed the acquisition wait.
type Leaser interface {
	WithLease(ctx context.Context, name string, wait, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Params configures a RedisLocker.
type Params struct {
	Store         Store
	Logger        *logger.Logger
	RetryInterval time.Duration
}

// RedisLocker implements Locker with SETNX + TTL. Under WithLock the key TTL
// equals the acquisition timeout so a crashed holder blocks others for at most
// that long.
type RedisLocker struct {
	store         Store
	logg          *logger.Logger
	retryInterval time.Duration
}

func NewRedisLocker(params Params) (*RedisLocker, error) {
	if params.Store == nil {
		return nil, errors.New("lock store required")
	}
	retry := params.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &RedisLocker{
		store:         params.Store,
		logg:          params.Logger,
		retryInterval: retry,
	}, nil
}

// WithLock acquires name, runs fn and releases. Acquisition gives up with
// CodeLockTimeout once timeout elapses.
func (l *RedisLocker) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	return l.WithLease(ctx, name, timeout, timeout, fn)
}

// WithLease is WithLock with the key TTL decoupled from the acquisition wait.
// Holders whose work can outlast wait pass a ttl covering the whole callback.
func (l *RedisLocker) WithLease(ctx context.Context, name string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	if name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "lock name is required")
	}
	if fn == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "lock callback is required")
	}
	if wait <= 0 {
		wait = defaultTimeout
	}
	if ttl < wait {
		ttl = wait
	}

	key := l.store.LockKey(name)
	owner := uuid.NewString()
	if err := l.acquire(ctx, key, owner, wait, ttl); err != nil {
		return err
	}

	defer func() {
		// release must survive a cancelled caller context
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := l.store.CompareAndDelete(releaseCtx, key, owner); err != nil && l.logg != nil {
			l.logg.Error(l.logg.WithField(ctx, "lock", name), "release lock", err)
		}
	}()

	return fn(ctx)
}

func (l *RedisLocker) acquire(ctx context.Context, key, owner string, wait, ttl time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.store.SetNX(ctx, key, owner, ttl)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("setnx %s: %w", key, err), "acquire lock")
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return pkgerrors.New(pkgerrors.CodeLockTimeout, fmt.Sprintf("timed out acquiring %s", key))
		}
		wait := l.retryInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// PurchaseKey names the per-user lock held while creating or confirming a
// payment.
func PurchaseKey(userID string) string {
	return "purchase-lock:" + userID
}

// VenueBalanceKey names the per-venue lock held around balance check-then-
// decrement sequences.
func VenueBalanceKey(venueID string) string {
	return "venue-balance:" + venueID
}
