// Package quota enforces per-tenant resource ceilings. Monthly counters
// (items, automation runs, storage) live in the usage ledger; the concurrency
// ceiling is a live gauge over enqueued items. The dispatcher and scheduler
// consult it before enqueueing work; refusals carry the limit and current
// usage for the caller.
package quota

import (
	"context"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

// Ledger applies configured limits to the persistent usage counters. A zero
// limit disables the corresponding ceiling.
type Ledger struct {
	store  *queue.Store
	limits config.Quota
	now    func() time.Time
}

// NewLedger builds a ledger over the store with the configured limits.
func NewLedger(store *queue.Store, limits config.Quota) *Ledger {
	return &Ledger{store: store, limits: limits, now: time.Now}
}

// ReserveItemCreation counts one item against the owner's monthly creation
// ceiling.
func (l *Ledger) ReserveItemCreation(ctx context.Context, ownerID int64) error {
	return l.store.IncrementQuota(ctx, ownerID, l.period(), queue.CounterItemsCreated, 1, int64(l.limits.MonthlyItemLimit))
}

// ReserveAutomationRun counts one scheduled firing against the owner's
// monthly automation ceiling.
func (l *Ledger) ReserveAutomationRun(ctx context.Context, ownerID int64) error {
	return l.store.IncrementQuota(ctx, ownerID, l.period(), queue.CounterAutomationRun, 1, int64(l.limits.MonthlyAutomationLimit))
}

// EnqueueForProcessing marks an initialized item enqueued, claiming one
// concurrent task slot. The slot is the enqueued marker itself: the store
// clears it when the item reaches a terminal state or fails, so completion
// is the release and the count never drifts.
func (l *Ledger) EnqueueForProcessing(ctx context.Context, item *queue.Item) error {
	return l.store.Enqueue(ctx, item.ID, item.OwnerID, int64(l.limits.ConcurrentTaskLimit))
}

// RetryFailed re-enqueues a failed item at the stage that failed, re-claiming
// a concurrent task slot under the configured ceiling.
func (l *Ledger) RetryFailed(ctx context.Context, id int64) (*queue.Item, error) {
	return l.store.Retry(ctx, id, int64(l.limits.ConcurrentTaskLimit))
}

// ActiveTasks reports the owner's live count of enqueued items.
func (l *Ledger) ActiveTasks(ctx context.Context, ownerID int64) (int64, error) {
	return l.store.ActiveTaskCount(ctx, ownerID)
}

// ReserveStorage counts bytes of produced artifacts against the storage
// ceiling.
func (l *Ledger) ReserveStorage(ctx context.Context, ownerID int64, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return l.store.IncrementQuota(ctx, ownerID, l.period(), queue.CounterStorageBytes, bytes, l.limits.StorageLimitBytes)
}

// Usage reads the owner's ledger for the current period.
func (l *Ledger) Usage(ctx context.Context, ownerID int64) (*queue.QuotaUsage, error) {
	return l.store.GetQuotaUsage(ctx, ownerID, l.period())
}

func (l *Ledger) period() string {
	return queue.PeriodKey(l.now())
}
