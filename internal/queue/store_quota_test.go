package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/testsupport"
)

func TestPeriodKey(t *testing.T) {
	at := time.Date(2024, time.March, 15, 23, 59, 0, 0, time.UTC)
	if got := queue.PeriodKey(at); got != "2024-03" {
		t.Fatalf("expected 2024-03, got %s", got)
	}
}

func TestIncrementQuotaEnforcesLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := queue.PeriodKey(time.Now())

	for i := 0; i < 3; i++ {
		if err := store.IncrementQuota(ctx, 1, period, queue.CounterItemsCreated, 1, 3); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	err := store.IncrementQuota(ctx, 1, period, queue.CounterItemsCreated, 1, 3)
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	usage, err := store.GetQuotaUsage(ctx, 1, period)
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.ItemsCreated != 3 {
		t.Fatalf("refused increment must not mutate the ledger, got %d", usage.ItemsCreated)
	}
}

func TestIncrementQuotaUnmetered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := queue.PeriodKey(time.Now())
	if err := store.IncrementQuota(ctx, 1, period, queue.CounterStorageBytes, 1<<40, 0); err != nil {
		t.Fatalf("expected zero limit to be unmetered: %v", err)
	}
}

func TestGetQuotaUsageCountsLiveTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := queue.PeriodKey(time.Now())
	item := testsupport.NewItem(t, store, 1, "Gauge")
	testsupport.EnqueueItem(t, store, item)

	usage, err := store.GetQuotaUsage(ctx, 1, period)
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.ActiveTasks != 1 {
		t.Fatalf("expected 1 active task, got %d", usage.ActiveTasks)
	}

	// The gauge ignores the requested period: an item enqueued last month
	// still occupies its slot today.
	stale, err := store.GetQuotaUsage(ctx, 1, "2020-01")
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if stale.ActiveTasks != 1 {
		t.Fatalf("expected live gauge across periods, got %d", stale.ActiveTasks)
	}

	testsupport.AdvanceTo(t, store, item, queue.StatusUploaded)
	usage, err = store.GetQuotaUsage(ctx, 1, period)
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.ActiveTasks != 0 {
		t.Fatalf("expected 0 active tasks after completion, got %d", usage.ActiveTasks)
	}
}

func TestGetQuotaUsageMissingRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	usage, err := store.GetQuotaUsage(context.Background(), 99, "2024-01")
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.ItemsCreated != 0 || usage.ActiveTasks != 0 {
		t.Fatalf("expected zeroed ledger for missing row, got %#v", usage)
	}
}

func TestIncrementQuotaConcurrentNeverOvershoots(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := queue.PeriodKey(time.Now())
	const limit = 5
	const attempts = 12

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.IncrementQuota(ctx, 1, period, queue.CounterAutomationRun, 1, limit)
		}()
	}
	wg.Wait()
	close(errs)

	var granted int
	for err := range errs {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, services.ErrQuotaExceeded):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != limit {
		t.Fatalf("expected exactly %d grants, got %d", limit, granted)
	}
	usage, err := store.GetQuotaUsage(ctx, 1, period)
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.AutomationRuns != limit {
		t.Fatalf("ledger overshoot: %d > %d", usage.AutomationRuns, limit)
	}
}

func TestIncrementQuotaUnknownCounter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.IncrementQuota(context.Background(), 1, "2024-01", queue.QuotaCounter("bogus"), 1, 10)
	if err == nil {
		t.Fatal("expected unknown counter to be rejected")
	}
}
