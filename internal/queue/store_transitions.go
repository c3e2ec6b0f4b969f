package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/services"
)

// Transition applies the edge from -> to with an optimistic concurrency check:
// the update only lands if the persisted status still equals from. A lost race
// surfaces as services.ErrConflict and the caller re-reads.
//
// Entering an in-flight status stamps the heartbeat; every other destination
// clears it.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status) error {
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	if to == StatusFailed {
		return services.Wrap(services.ErrInvalidTransition, "queue", "transition",
			"failure transitions must go through MarkFailed", nil)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var heartbeat any
	if IsProcessingStatus(to) {
		heartbeat = now
	}

	set := `status = ?, failed = 0, failed_at_stage = NULL, error_message = NULL,
             last_heartbeat = ?, updated_at = ?`
	if IsTerminal(to) {
		// Reaching a terminal state hands the concurrency slot back.
		set += `, enqueued = 0`
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processed_items SET `+set+` WHERE id = ? AND status = ?`,
		to,
		heartbeat,
		now,
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	return s.checkTransitionOutcome(ctx, res.RowsAffected, id, from)
}

// MarkFailed records a stage failure: status moves to failed, the failing
// stage and message are preserved for retry, subject to the same optimistic
// check as Transition.
func (s *Store) MarkFailed(ctx context.Context, id int64, from Status, message string) error {
	if err := ValidateTransition(from, StatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processed_items
         SET status = ?, enqueued = 0, failed = 1, failed_at_stage = ?, error_message = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed,
		from,
		nullableString(message),
		now,
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkTransitionOutcome(ctx, res.RowsAffected, id, from)
}

// Retry re-enqueues a failed item at exactly the stage that failed. Completed
// stages are never repeated; the retry counter is advisory and unbounded.
// Because a retry puts the item back in front of the workers, it re-claims a
// concurrency slot under taskLimit; zero or below means unmetered. The gate
// and the update run in one transaction.
func (s *Store) Retry(ctx context.Context, id, taskLimit int64) (*Item, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "retry", fmt.Sprintf("item %d", id), nil)
	}
	if !item.Failed || item.Status != StatusFailed {
		return nil, services.Wrap(services.ErrValidation, "queue", "retry",
			fmt.Sprintf("item %d is %s, only failed items can be retried", id, item.Status), nil)
	}
	stage := item.FailedAtStage
	if err := ValidateTransition(StatusFailed, stage); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkTaskSlotTx(tx, ctx, "retry", item.OwnerID, taskLimit); err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ensureContext(ctx),
			`UPDATE processed_items
             SET status = ?, enqueued = 1, failed = 0, failed_at_stage = NULL, error_message = NULL,
                 retry_count = retry_count + 1, last_heartbeat = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			stage,
			now,
			id,
			StatusFailed,
		)
		if err != nil {
			return fmt.Errorf("retry item: %w", err)
		}
		return checkOutcomeTx(tx, ctx, res.RowsAffected, "retry", id, StatusFailed)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Enqueue hands an initialized item to the pipeline: the workers only pick up
// enqueued items, so this marker is the dispatch gate. The owner's live count
// of enqueued items is checked against taskLimit in the same transaction, so
// concurrent dispatches never overshoot; zero or below means unmetered.
func (s *Store) Enqueue(ctx context.Context, id, ownerID, taskLimit int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkTaskSlotTx(tx, ctx, "enqueue", ownerID, taskLimit); err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ensureContext(ctx),
			`UPDATE processed_items SET enqueued = 1, updated_at = ?
             WHERE id = ? AND status = ? AND enqueued = 0`,
			now,
			id,
			StatusInitialized,
		)
		if err != nil {
			return fmt.Errorf("enqueue item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return services.Wrap(services.ErrConflict, "queue", "enqueue",
				fmt.Sprintf("item %d is already queued or advanced", id), nil)
		}
		return nil
	})
}

// ActiveTaskCount reports how many of an owner's items currently hold a
// concurrency slot.
func (s *Store) ActiveTaskCount(ctx context.Context, ownerID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(*) FROM processed_items WHERE owner_id = ? AND enqueued = 1`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return count, nil
}

func checkTaskSlotTx(tx *sql.Tx, ctx context.Context, op string, ownerID, taskLimit int64) error {
	if taskLimit <= 0 {
		return nil
	}
	var active int64
	if err := tx.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(*) FROM processed_items WHERE owner_id = ? AND enqueued = 1`,
		ownerID,
	).Scan(&active); err != nil {
		return fmt.Errorf("count active tasks: %w", err)
	}
	if active+1 > taskLimit {
		return services.Wrap(services.ErrQuotaExceeded, "queue", op,
			fmt.Sprintf("active_tasks limit reached for owner %d: usage %d + 1 exceeds %d", ownerID, active, taskLimit),
			nil)
	}
	return nil
}

func checkOutcomeTx(tx *sql.Tx, ctx context.Context, rowsAffected func() (int64, error), op string, id int64, from Status) error {
	affected, err := rowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var current string
	err = tx.QueryRowContext(
		ensureContext(ctx),
		`SELECT status FROM processed_items WHERE id = ?`, id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "queue", op, fmt.Sprintf("item %d", id), nil)
	}
	if err != nil {
		return fmt.Errorf("read item status: %w", err)
	}
	return services.Wrap(services.ErrConflict, "queue", op,
		fmt.Sprintf("item %d is %s, expected %s", id, current, from), nil)
}

// Reset unconditionally forces an item back to initialized, discarding all
// progress markers including its target publications.
func (s *Store) Reset(ctx context.Context, id int64) (*Item, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "reset", fmt.Sprintf("item %d", id), nil)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ensureContext(ctx),
			`UPDATE processed_items
             SET status = ?, enqueued = 0, failed = 0, failed_at_stage = NULL, error_message = NULL,
                 retry_count = 0, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusInitialized, now, id,
		); err != nil {
			return fmt.Errorf("reset item: %w", err)
		}
		if _, err := tx.ExecContext(ensureContext(ctx),
			`DELETE FROM target_publications WHERE item_id = ?`, id,
		); err != nil {
			return fmt.Errorf("reset publications: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// NextForStage returns the oldest enqueued item awaiting the stage: either
// resting at the stage start status, or re-enqueued at the in-flight status
// with no heartbeat (retry or reclaim). Items never dispatched are invisible
// to the workers.
func (s *Store) NextForStage(ctx context.Context, start, processing Status) (*Item, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM processed_items
         WHERE (status = ? OR (status = ? AND last_heartbeat IS NULL)) AND enqueued = 1
         ORDER BY created_at, id LIMIT 1`,
		start,
		processing,
	)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// ClaimReenqueued claims an item already sitting at an in-flight status with
// no heartbeat. The heartbeat stamp is the claim; a concurrent claimer loses
// the conditional update and receives a conflict.
func (s *Store) ClaimReenqueued(ctx context.Context, id int64, processing Status) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processed_items SET last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ? AND last_heartbeat IS NULL`,
		now,
		now,
		id,
		processing,
	)
	if err != nil {
		return fmt.Errorf("claim re-enqueued item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "claim",
			fmt.Sprintf("item %d already claimed or advanced", id), nil)
	}
	return nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE processed_items SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing clears the heartbeat on in-flight items whose worker
// went silent before the cutoff, making the stage eligible for redelivery.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processed_items
         SET last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		now.Format(time.RFC3339Nano),
		StatusDownloading,
		StatusProcessing,
		StatusTranscribing,
		StatusUploading,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) checkTransitionOutcome(ctx context.Context, rowsAffected func() (int64, error), id int64, from Status) error {
	affected, err := rowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return services.Wrap(services.ErrNotFound, "queue", "transition", fmt.Sprintf("item %d", id), nil)
	}
	return services.Wrap(services.ErrConflict, "queue", "transition",
		fmt.Sprintf("item %d is %s, expected %s", id, current.Status, from), nil)
}
