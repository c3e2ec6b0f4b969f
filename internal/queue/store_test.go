package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/testsupport"
)

func TestOpenAppliesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item, err := store.NewItem(ctx, queue.NewItemParams{OwnerID: 1, Title: "Lecture 01"})
	if err != nil {
		t.Fatalf("NewItem failed: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != queue.StatusInitialized {
		t.Fatalf("expected new item to start initialized, got %s", item.Status)
	}

	fetched, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Title != "Lecture 01" {
		t.Fatalf("unexpected fetched item: %#v", fetched)
	}
}

func TestNewItemRequiresOwnerAndTitle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.NewItem(ctx, queue.NewItemParams{OwnerID: 1}); err == nil {
		t.Fatal("expected error when title missing")
	}
	if _, err := store.NewItem(ctx, queue.NewItemParams{Title: "No Owner"}); err == nil {
		t.Fatal("expected error when owner missing")
	}
}

func TestTransitionHappyPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.NewItem(t, store, 1, "Lifecycle")
	final := testsupport.AdvanceTo(t, store, item, queue.StatusUploaded)
	if final.Status != queue.StatusUploaded {
		t.Fatalf("expected uploaded, got %s", final.Status)
	}
	if final.Failed || final.FailedAtStage != "" {
		t.Fatalf("completed item carries failure markers: %#v", final)
	}
	if final.LastHeartbeat != nil {
		t.Fatal("terminal item should have no heartbeat")
	}
}

func TestTransitionStampsHeartbeatOnInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Heartbeat")
	if err := store.Transition(ctx, item.ID, queue.StatusInitialized, queue.StatusDownloading); err != nil {
		t.Fatalf("transition: %v", err)
	}
	inflight, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if inflight.LastHeartbeat == nil {
		t.Fatal("expected heartbeat stamp on in-flight status")
	}
	if err := store.Transition(ctx, item.ID, queue.StatusDownloading, queue.StatusDownloaded); err != nil {
		t.Fatalf("transition: %v", err)
	}
	resting, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if resting.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared on resting status")
	}
}

func TestTransitionConflictOnStaleFrom(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Conflict")
	if err := store.Transition(ctx, item.ID, queue.StatusInitialized, queue.StatusDownloading); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := store.Transition(ctx, item.ID, queue.StatusInitialized, queue.StatusDownloading)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTransitionRejectsDirectFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.NewItem(t, store, 1, "Direct Failure")
	err := store.Transition(context.Background(), item.ID, queue.StatusInitialized, queue.StatusFailed)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransitionMissingItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.Transition(context.Background(), 9999, queue.StatusInitialized, queue.StatusDownloading)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentTransitionExactlyOneWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Race")
	item = testsupport.AdvanceTo(t, store, item, queue.StatusDownloaded)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Transition(ctx, item.ID, queue.StatusDownloaded, queue.StatusProcessing)
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, services.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d conflicts", wins, conflicts)
	}

	final, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != queue.StatusProcessing {
		t.Fatalf("expected processing, got %s", final.Status)
	}
}

func TestMarkFailedRecordsStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Failure")
	item = testsupport.AdvanceTo(t, store, item, queue.StatusProcessing)

	if err := store.MarkFailed(ctx, item.ID, queue.StatusProcessing, "transcoder exited 1"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	failed, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.Status != queue.StatusFailed || !failed.Failed {
		t.Fatalf("expected failed status and flag, got %#v", failed)
	}
	if failed.FailedAtStage != queue.StatusProcessing {
		t.Fatalf("expected failed_at_stage=processing, got %s", failed.FailedAtStage)
	}
	if failed.ErrorMessage != "transcoder exited 1" {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}
}

func TestRetryResumesAtFailedStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Retry")
	item = testsupport.AdvanceTo(t, store, item, queue.StatusTranscribing)
	if err := store.MarkFailed(ctx, item.ID, queue.StatusTranscribing, "asr timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	retried, err := store.Retry(ctx, item.ID, 0)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != queue.StatusTranscribing {
		t.Fatalf("expected retry to resume at transcribing, got %s", retried.Status)
	}
	if retried.Failed || retried.FailedAtStage != "" || retried.ErrorMessage != "" {
		t.Fatalf("failure markers not cleared: %#v", retried)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", retried.RetryCount)
	}
	if retried.LastHeartbeat != nil {
		t.Fatal("retried item must wait unclaimed")
	}
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.NewItem(t, store, 1, "Not Failed")
	if _, err := store.Retry(context.Background(), item.ID, 0); err == nil {
		t.Fatal("expected retry of non-failed item to be rejected")
	}
}

func TestResetDiscardsProgressAndTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Reset")
	item = testsupport.AdvanceTo(t, store, item, queue.StatusTranscribed)
	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube", "podcast"}); err != nil {
		t.Fatalf("EnsureTargets: %v", err)
	}

	fresh, err := store.Reset(ctx, item.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fresh.Status != queue.StatusInitialized || fresh.RetryCount != 0 {
		t.Fatalf("unexpected reset state: %#v", fresh)
	}
	targets, err := store.TargetsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("TargetsForItem: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("expected publications removed, got %d", len(targets))
	}
}

func TestNextForStageAndClaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewItem(t, store, 1, "First")
	second := testsupport.NewItem(t, store, 1, "Second")

	// Items nobody dispatched are invisible to the workers.
	next, err := store.NextForStage(ctx, queue.StatusInitialized, queue.StatusDownloading)
	if err != nil {
		t.Fatalf("NextForStage: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no eligible item before dispatch, got %#v", next)
	}

	testsupport.EnqueueItem(t, store, first)
	testsupport.EnqueueItem(t, store, second)
	next, err = store.NextForStage(ctx, queue.StatusInitialized, queue.StatusDownloading)
	if err != nil {
		t.Fatalf("NextForStage: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest item first, got %#v", next)
	}

	// A failed-then-retried item sits at the in-flight status without a
	// heartbeat and must be claimable.
	item := testsupport.AdvanceTo(t, store, first, queue.StatusProcessing)
	if err := store.MarkFailed(ctx, item.ID, queue.StatusProcessing, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := store.Retry(ctx, item.ID, 0); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	reenqueued, err := store.NextForStage(ctx, queue.StatusDownloaded, queue.StatusProcessing)
	if err != nil {
		t.Fatalf("NextForStage: %v", err)
	}
	if reenqueued == nil || reenqueued.ID != item.ID {
		t.Fatalf("expected retried item eligible, got %#v", reenqueued)
	}
	if err := store.ClaimReenqueued(ctx, item.ID, queue.StatusProcessing); err != nil {
		t.Fatalf("ClaimReenqueued: %v", err)
	}
	if err := store.ClaimReenqueued(ctx, item.ID, queue.StatusProcessing); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected second claim to conflict, got %v", err)
	}
}

func TestEnqueueGatesOnActiveTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewItem(t, store, 1, "First")
	second := testsupport.NewItem(t, store, 1, "Second")

	if err := store.Enqueue(ctx, first.ID, 1, 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	err := store.Enqueue(ctx, second.ID, 1, 1)
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected quota refusal, got %v", err)
	}

	// The same item cannot claim a second slot.
	if err := store.Enqueue(ctx, first.ID, 1, 0); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on repeat enqueue, got %v", err)
	}

	active, err := store.ActiveTaskCount(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveTaskCount: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected 1 active task, got %d", active)
	}
}

func TestEnqueuedSlotReleasedAtRest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Completes")
	testsupport.EnqueueItem(t, store, item)

	// Completion hands the slot back without a separate release call.
	done := testsupport.AdvanceTo(t, store, item, queue.StatusUploaded)
	if done.Enqueued {
		t.Fatal("uploaded item still holds its slot")
	}
	active, err := store.ActiveTaskCount(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveTaskCount: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected 0 active tasks after completion, got %d", active)
	}

	// Failure also releases; retry re-claims; reset releases again.
	next := testsupport.NewItem(t, store, 1, "Fails")
	testsupport.EnqueueItem(t, store, next)
	next = testsupport.AdvanceTo(t, store, next, queue.StatusDownloading)
	if err := store.MarkFailed(ctx, next.ID, queue.StatusDownloading, "source vanished"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if active, _ = store.ActiveTaskCount(ctx, 1); active != 0 {
		t.Fatalf("expected slot released on failure, got %d", active)
	}
	retried, err := store.Retry(ctx, next.ID, 1)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !retried.Enqueued {
		t.Fatal("retried item should hold a slot again")
	}
	if active, _ = store.ActiveTaskCount(ctx, 1); active != 1 {
		t.Fatalf("expected 1 active task after retry, got %d", active)
	}
	reset, err := store.Reset(ctx, next.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Enqueued {
		t.Fatal("reset item should not hold a slot")
	}
}

func TestRetryGatesOnActiveTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	running := testsupport.NewItem(t, store, 1, "Running")
	testsupport.EnqueueItem(t, store, running)

	failed := testsupport.NewItem(t, store, 1, "Failed")
	testsupport.EnqueueItem(t, store, failed)
	failed = testsupport.AdvanceTo(t, store, failed, queue.StatusProcessing)
	if err := store.MarkFailed(ctx, failed.ID, queue.StatusProcessing, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if _, err := store.Retry(ctx, failed.ID, 1); !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected retry to respect the concurrency ceiling, got %v", err)
	}
	if _, err := store.Retry(ctx, failed.ID, 2); err != nil {
		t.Fatalf("Retry under limit: %v", err)
	}
}

func TestRemoveHandsBackStorage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := queue.PeriodKey(time.Now())
	item := testsupport.NewItem(t, store, 1, "Heavy")
	item.StorageBytes = 500
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.IncrementQuota(ctx, 1, period, queue.CounterStorageBytes, 500, 0); err != nil {
		t.Fatalf("IncrementQuota: %v", err)
	}

	removed, err := store.Remove(ctx, item.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected item removed")
	}
	usage, err := store.GetQuotaUsage(ctx, 1, period)
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.StorageBytes != 0 {
		t.Fatalf("expected storage handed back, still %d", usage.StorageBytes)
	}
}

func TestClearHandsBackStorage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	period := queue.PeriodKey(time.Now())
	for i, bytes := range []int64{300, 200} {
		item := testsupport.NewItem(t, store, 1, fmt.Sprintf("Done %d", i))
		item.StorageBytes = bytes
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if err := store.IncrementQuota(ctx, 1, period, queue.CounterStorageBytes, bytes, 0); err != nil {
			t.Fatalf("IncrementQuota: %v", err)
		}
		testsupport.AdvanceTo(t, store, item, queue.StatusUploaded)
	}
	// An unfinished item keeps its accounting.
	waiting := testsupport.NewItem(t, store, 1, "Waiting")
	waiting.StorageBytes = 100
	if err := store.Update(ctx, waiting); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.IncrementQuota(ctx, 1, period, queue.CounterStorageBytes, 100, 0); err != nil {
		t.Fatalf("IncrementQuota: %v", err)
	}

	cleared, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}
	usage, err := store.GetQuotaUsage(ctx, 1, period)
	if err != nil {
		t.Fatalf("GetQuotaUsage: %v", err)
	}
	if usage.StorageBytes != 100 {
		t.Fatalf("expected only the waiting item's bytes to remain, got %d", usage.StorageBytes)
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Stale")
	item = testsupport.AdvanceTo(t, store, item, queue.StatusDownloading)

	reclaimed, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed item, got %d", reclaimed)
	}
	cleared, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if cleared.Status != queue.StatusDownloading {
		t.Fatalf("reclaim must not roll back status, got %s", cleared.Status)
	}
	if cleared.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared for redelivery")
	}

	// Fresh heartbeats survive.
	if err := store.UpdateHeartbeat(ctx, item.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	reclaimed, err = store.ReclaimStaleProcessing(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected no reclaims, got %d", reclaimed)
	}
}

func TestHealthAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	done := testsupport.NewItem(t, store, 1, "Done")
	testsupport.AdvanceTo(t, store, done, queue.StatusUploaded)
	failed := testsupport.NewItem(t, store, 1, "Broken")
	failed = testsupport.AdvanceTo(t, store, failed, queue.StatusDownloading)
	if err := store.MarkFailed(ctx, failed.ID, queue.StatusDownloading, "no such source"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	testsupport.NewItem(t, store, 1, "Waiting")

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Completed != 1 || health.Failed != 1 || health.Waiting != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}

	cleared, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}
	cleared, err = store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 failed cleared, got %d", cleared)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	for i := 0; i < 3; i++ {
		testsupport.NewItem(t, store, 1, fmt.Sprintf("Item %d", i))
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusInitialized] != 3 {
		t.Fatalf("expected 3 initialized, got %d", stats[queue.StatusInitialized])
	}
}
