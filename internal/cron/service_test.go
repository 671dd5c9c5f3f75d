package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tickettoken/settlement/pkg/lock/locktest"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
)

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, registry *Registry, lock Lock, m *metrics.CronJobMetrics) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func newTestLock(t *testing.T) (*RedisLock, *locktest.Store) {
	t.Helper()
	store := locktest.NewStore()
	l, err := NewRedisLock(store)
	if err != nil {
		t.Fatalf("construct lock: %v", err)
	}
	return l, store
}

func TestServiceRunsAllDueJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	registry := NewRegistry()
	registry.Register(success, time.Minute)
	registry.Register(failure, time.Minute)

	reg := prometheus.NewRegistry()
	lock, store := newTestLock(t)
	service := newTestService(t, registry, lock, metrics.NewCronJobMetrics(reg))

	service.runDue(context.Background())

	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", success.runs, failure.runs)
	}
	if store.Held("cron:success") || store.Held("cron:fail") {
		t.Fatalf("job locks not released")
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "settlement_cron_job_failure_total" {
			found = len(mf.GetMetric()) == 1
		}
	}
	if !found {
		t.Fatalf("expected a failure series for the failing job")
	}
}

func TestServiceHonorsPerJobCadence(t *testing.T) {
	fast := &testJob{name: "fast"}
	slow := &testJob{name: "slow"}
	registry := NewRegistry()
	registry.Register(fast, 5*time.Minute)
	registry.Register(slow, 24*time.Hour)

	lock, _ := newTestLock(t)
	service := newTestService(t, registry, lock, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	ctx := context.Background()
	service.runDue(ctx)
	now = now.Add(2 * time.Minute)
	service.runDue(ctx)
	now = now.Add(4 * time.Minute)
	service.runDue(ctx)

	if fast.runs != 2 {
		t.Fatalf("expected fast job to run twice, ran %d", fast.runs)
	}
	if slow.runs != 1 {
		t.Fatalf("expected slow job to run once, ran %d", slow.runs)
	}
}

func TestServiceSkipsJobHeldByAnotherInstance(t *testing.T) {
	job := &testJob{name: "reconcile"}
	registry := NewRegistry()
	registry.Register(job, time.Minute)

	lock, store := newTestLock(t)
	if ok, _ := store.SetNX(context.Background(), store.LockKey("cron:reconcile"), "other", time.Minute); !ok {
		t.Fatalf("seed foreign lock")
	}
	service := newTestService(t, registry, lock, nil)
	service.runDue(context.Background())

	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})})
	if err == nil {
		t.Fatal("expected error without lock")
	}
}
