package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/services"
)

// EnsureTargets lazily creates publication rows for the targets the effective
// configuration designates. Existing rows are left untouched.
func (s *Store) EnsureTargets(ctx context.Context, itemID int64, targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, target := range targets {
		if target == "" {
			continue
		}
		if err := s.execWithoutResultRetry(
			ctx,
			`INSERT INTO target_publications (item_id, target, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT (item_id, target) DO NOTHING`,
			itemID,
			target,
			TargetNotUploaded,
			now,
			now,
		); err != nil {
			return fmt.Errorf("ensure target %q: %w", target, err)
		}
	}
	return nil
}

// GetTarget fetches a single publication row.
func (s *Store) GetTarget(ctx context.Context, itemID int64, target string) (*TargetPublication, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+targetColumns+` FROM target_publications WHERE item_id = ? AND target = ?`,
		itemID,
		target,
	)
	pub, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target publication: %w", err)
	}
	return pub, nil
}

// TargetsForItem returns all publication rows for an item.
func (s *Store) TargetsForItem(ctx context.Context, itemID int64) ([]*TargetPublication, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+targetColumns+` FROM target_publications WHERE item_id = ? ORDER BY target`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list target publications: %w", err)
	}
	defer rows.Close()

	var pubs []*TargetPublication
	for rows.Next() {
		pub, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// TransitionTarget applies a publication edge with the same optimistic check
// as item transitions. A failure destination records the message; a retry
// destination increments the per-target retry counter.
func (s *Store) TransitionTarget(ctx context.Context, itemID int64, target string, from, to TargetStatus, message string) error {
	if err := ValidateTargetTransition(from, to); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE target_publications
         SET status = ?, error_message = ?, updated_at = ?
         WHERE item_id = ? AND target = ? AND status = ?`
	if from == TargetFailed && to == TargetUploading {
		query = `UPDATE target_publications
         SET status = ?, error_message = ?, updated_at = ?, retry_count = retry_count + 1
         WHERE item_id = ? AND target = ? AND status = ?`
	}

	var errMessage any
	if to == TargetFailed {
		errMessage = nullableString(message)
	}

	res, err := s.execWithRetry(ctx, query, to, errMessage, now, itemID, target, from)
	if err != nil {
		return fmt.Errorf("transition target: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetTarget(ctx, itemID, target)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return services.Wrap(services.ErrNotFound, "queue", "transition-target",
				fmt.Sprintf("publication %d/%s", itemID, target), nil)
		}
		return services.Wrap(services.ErrConflict, "queue", "transition-target",
			fmt.Sprintf("publication %d/%s is %s, expected %s", itemID, target, current.Status, from), nil)
	}
	return nil
}

// AllTargetsUploaded reports whether every publication row for the item has
// reached the uploaded terminal state. Items with no rows report false.
func (s *Store) AllTargetsUploaded(ctx context.Context, itemID int64) (bool, error) {
	var total, uploaded int
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
         FROM target_publications WHERE item_id = ?`,
		TargetUploaded,
		itemID,
	)
	if err := row.Scan(&total, &uploaded); err != nil {
		return false, fmt.Errorf("count target publications: %w", err)
	}
	return total > 0 && total == uploaded, nil
}

const targetColumns = "item_id, target, status, retry_count, error_message, created_at, updated_at"

func scanTarget(scanner interface{ Scan(dest ...any) error }) (*TargetPublication, error) {
	var (
		itemID       int64
		target       string
		statusStr    string
		retryCount   int
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(&itemID, &target, &statusStr, &retryCount, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	pub := &TargetPublication{
		ItemID:       itemID,
		Target:       target,
		Status:       TargetStatus(statusStr),
		RetryCount:   retryCount,
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		pub.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		pub.UpdatedAt = updated
	}
	return pub, nil
}
