// Package dispatch fans bulk operations out over many items with per-item
// failure isolation. A call takes an explicit id set or a filter, checks
// quota per item, and returns a manifest instead of aborting the batch when
// individual items refuse the operation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
	"conveyor/internal/services"
)

// Operation names a bulk action applied per item.
type Operation string

const (
	// OpProcess enqueues waiting items for the download stage.
	OpProcess Operation = "process"
	// OpRetry re-enqueues failed items at their recorded failed stage.
	OpRetry Operation = "retry"
	// OpReset forces items back to the start, discarding progress.
	OpReset Operation = "reset"
	// OpSkip marks waiting items as deliberately skipped.
	OpSkip Operation = "skip"
)

// TaskStatus classifies one manifest entry.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskSkipped TaskStatus = "skipped"
	TaskErrored TaskStatus = "error"
)

// Task is one per-item outcome inside a manifest.
type Task struct {
	ItemID int64      `json:"item_id"`
	TaskID *int64     `json:"task_id"`
	Status TaskStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// Manifest is the aggregate result of one bulk call. Individual item
// failures live in the task list; the call itself only errors on malformed
// input.
type Manifest struct {
	QueuedCount  int    `json:"queued_count"`
	SkippedCount int    `json:"skipped_count"`
	ErrorCount   int    `json:"error_count"`
	Tasks        []Task `json:"tasks"`
}

func (m *Manifest) add(task Task) {
	switch task.Status {
	case TaskQueued:
		m.QueuedCount++
	case TaskSkipped:
		m.SkippedCount++
	case TaskErrored:
		m.ErrorCount++
	}
	m.Tasks = append(m.Tasks, task)
}

// Dispatcher resolves target sets and applies bulk operations.
type Dispatcher struct {
	store  *queue.Store
	ledger *quota.Ledger
	cfg    config.Dispatch
	logger *slog.Logger
}

// New builds a dispatcher.
func New(store *queue.Store, ledger *quota.Ledger, cfg config.Dispatch, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Resolve evaluates a filter into a concrete id set. It mutates nothing, so
// the dry-run path reuses it directly.
func (d *Dispatcher) Resolve(ctx context.Context, filter queue.ItemFilter) ([]int64, error) {
	return d.store.ResolveFilter(ctx, filter, d.cfg.DefaultLimit, d.cfg.MaxLimit)
}

// Dispatch applies an operation to each id independently. Quota refusals
// produce skipped entries; not-found and invalid-state produce error entries;
// the remaining items proceed regardless. Only malformed input fails the
// whole call.
func (d *Dispatcher) Dispatch(ctx context.Context, ids []int64, op Operation) (*Manifest, error) {
	if len(ids) == 0 {
		return nil, services.Wrap(services.ErrValidation, "dispatch", "dispatch", "id list must not be empty", nil)
	}
	if err := validateOperation(op); err != nil {
		return nil, err
	}

	manifest := &Manifest{Tasks: make([]Task, 0, len(ids))}
	for _, id := range ids {
		manifest.add(d.dispatchOne(ctx, id, op, false))
	}
	d.logger.InfoContext(ctx, "bulk dispatch finished",
		logging.String("operation", string(op)),
		logging.Int("queued", manifest.QueuedCount),
		logging.Int("skipped", manifest.SkippedCount),
		logging.Int("errored", manifest.ErrorCount))
	return manifest, nil
}

// DispatchFilter resolves a filter and dispatches the result.
func (d *Dispatcher) DispatchFilter(ctx context.Context, filter queue.ItemFilter, op Operation) (*Manifest, error) {
	ids, err := d.Resolve(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &Manifest{Tasks: []Task{}}, nil
	}
	return d.Dispatch(ctx, ids, op)
}

// DryRun resolves and validates without enqueueing work or touching quota
// counters. Entries that would be queued come back as queued with a nil task
// handle.
func (d *Dispatcher) DryRun(ctx context.Context, filter queue.ItemFilter, op Operation) (*Manifest, error) {
	if err := validateOperation(op); err != nil {
		return nil, err
	}
	ids, err := d.Resolve(ctx, filter)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{Tasks: make([]Task, 0, len(ids))}
	for _, id := range ids {
		manifest.add(d.dispatchOne(ctx, id, op, true))
	}
	return manifest, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, id int64, op Operation, dryRun bool) Task {
	item, err := d.store.GetByID(ctx, id)
	if err != nil {
		return errored(id, err.Error())
	}
	if item == nil {
		return errored(id, fmt.Sprintf("item %d not found", id))
	}

	switch op {
	case OpProcess:
		return d.process(ctx, item, dryRun)
	case OpRetry:
		return d.retry(ctx, item, dryRun)
	case OpReset:
		return d.reset(ctx, item, dryRun)
	case OpSkip:
		return d.skip(ctx, item, dryRun)
	default:
		return errored(id, fmt.Sprintf("unknown operation %q", op))
	}
}

func (d *Dispatcher) process(ctx context.Context, item *queue.Item, dryRun bool) Task {
	if queue.IsTerminal(item.Status) {
		return errored(item.ID, fmt.Sprintf("item %d is already %s", item.ID, item.Status))
	}
	if item.Status != queue.StatusInitialized {
		if item.Failed {
			return errored(item.ID, fmt.Sprintf("item %d is failed; use retry", item.ID))
		}
		return skipped(item.ID, fmt.Sprintf("item %d is already %s", item.ID, item.Status))
	}
	if err := queue.ValidateTransition(item.Status, queue.StatusDownloading); err != nil {
		return errored(item.ID, err.Error())
	}
	if dryRun {
		return queuedDry(item.ID)
	}
	if err := d.ledger.EnqueueForProcessing(ctx, item); err != nil {
		return dispatchOutcome(item.ID, err)
	}
	return queued(item.ID)
}

func (d *Dispatcher) retry(ctx context.Context, item *queue.Item, dryRun bool) Task {
	if !item.Failed {
		return errored(item.ID, fmt.Sprintf("item %d is %s, only failed items can be retried", item.ID, item.Status))
	}
	if dryRun {
		return queuedDry(item.ID)
	}
	if _, err := d.ledger.RetryFailed(ctx, item.ID); err != nil {
		return dispatchOutcome(item.ID, err)
	}
	return queued(item.ID)
}

func (d *Dispatcher) reset(ctx context.Context, item *queue.Item, dryRun bool) Task {
	if dryRun {
		return queuedDry(item.ID)
	}
	if _, err := d.store.Reset(ctx, item.ID); err != nil {
		return errored(item.ID, err.Error())
	}
	return queued(item.ID)
}

func (d *Dispatcher) skip(ctx context.Context, item *queue.Item, dryRun bool) Task {
	if item.Status == queue.StatusSkipped {
		return skipped(item.ID, fmt.Sprintf("item %d is already skipped", item.ID))
	}
	if err := queue.ValidateTransition(item.Status, queue.StatusSkipped); err != nil {
		return errored(item.ID, fmt.Sprintf("item %d is %s and cannot be skipped", item.ID, item.Status))
	}
	if dryRun {
		return queuedDry(item.ID)
	}
	if err := d.store.Transition(ctx, item.ID, item.Status, queue.StatusSkipped); err != nil {
		return errored(item.ID, err.Error())
	}
	return queued(item.ID)
}

func validateOperation(op Operation) error {
	switch op {
	case OpProcess, OpRetry, OpReset, OpSkip:
		return nil
	default:
		return services.Wrap(services.ErrValidation, "dispatch", "dispatch",
			fmt.Sprintf("unknown operation %q", op), nil)
	}
}

func queued(id int64) Task {
	taskID := id
	return Task{ItemID: id, TaskID: &taskID, Status: TaskQueued}
}

func queuedDry(id int64) Task {
	return Task{ItemID: id, Status: TaskQueued}
}

func skipped(id int64, reason string) Task {
	return Task{ItemID: id, Status: TaskSkipped, Reason: reason}
}

func errored(id int64, reason string) Task {
	return Task{ItemID: id, Status: TaskErrored, Reason: reason}
}

func dispatchOutcome(id int64, err error) Task {
	if errors.Is(err, services.ErrQuotaExceeded) || errors.Is(err, services.ErrConflict) {
		return skipped(id, services.Details(err).Message)
	}
	return errored(id, err.Error())
}
