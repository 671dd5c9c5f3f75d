package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tickettoken/settlement/internal/webhooks"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/lock"
	"github.com/tickettoken/settlement/pkg/logger"
)

const (
	drainLockName       = "webhook-inbox-drain"
	defaultPollInterval = 2 * time.Second
	defaultLockTimeout  = 12 * time.Second
	drainLockSlack      = 5 * time.Second
	maxBackoff          = 30 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type drainer interface {
	Drain(ctx context.Context) (webhooks.DrainResult, error)
	MaxDrainDuration() time.Duration
}

type pinger func(ctx context.Context) error

type ServiceParams struct {
	Logger       *logger.Logger
	Inbox        drainer
	Locker       lock.Leaser
	Pingers      map[string]pinger
	PollInterval time.Duration
	LockTimeout  time.Duration
	BatchSize    int
}

// Service drains the webhook inbox. One instance drains at a time; others
// wait out the poll interval while the drain lock is held. The lock TTL covers
// a whole batch at the per-item timeout.
type Service struct {
	logg         *logger.Logger
	inbox        drainer
	locker       lock.Leaser
	pingers      map[string]pinger
	pollInterval time.Duration
	lockTimeout  time.Duration
	lockTTL      time.Duration
	batchSize    int
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Inbox == nil {
		return nil, errors.New("webhook inbox is required")
	}
	if params.Locker == nil {
		return nil, errors.New("locker is required")
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	lockTimeout := params.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = webhooks.DefaultBatchSize
	}
	return &Service{
		logg:         params.Logger,
		inbox:        params.Inbox,
		locker:       params.Locker,
		pingers:      params.Pingers,
		pollInterval: poll,
		lockTimeout:  lockTimeout,
		lockTTL:      params.Inbox.MaxDrainDuration() + drainLockSlack,
		batchSize:    batch,
		sleep:        sleepCtx,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "webhook worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "webhook worker context canceled")
			return ctx.Err()
		default:
		}

		full, err := s.drainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logg.Error(ctx, "webhook drain error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = s.pollInterval

		if full {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// drainOnce drains a single batch under the drain lock. It reports whether
// the batch was full, meaning more pending rows are likely waiting.
func (s *Service) drainOnce(ctx context.Context) (bool, error) {
	var result webhooks.DrainResult
	err := s.locker.WithLease(ctx, drainLockName, s.lockTimeout, s.lockTTL, func(ctx context.Context) error {
		var drainErr error
		result, drainErr = s.inbox.Drain(ctx)
		return drainErr
	})
	if pkgerrors.Is(err, pkgerrors.CodeLockTimeout) {
		s.logg.Debug(ctx, "another worker holds the drain lock")
		return false, nil
	}
	if result.Selected > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"selected":  result.Selected,
			"processed": result.Processed,
			"failed":    result.Failed,
		}), "webhook batch drained")
	}
	return result.Selected >= s.batchSize, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
