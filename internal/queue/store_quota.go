package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/services"
)

// QuotaCounter names one of the per-owner ledger columns.
type QuotaCounter string

const (
	CounterItemsCreated  QuotaCounter = "items_created"
	CounterAutomationRun QuotaCounter = "automation_runs"
	CounterStorageBytes  QuotaCounter = "storage_bytes"
)

// QuotaUsage is one owner's ledger row for a billing period. ActiveTasks is
// not stored: it is the live count of enqueued items and carries across
// period boundaries.
type QuotaUsage struct {
	OwnerID        int64
	Period         string
	ItemsCreated   int64
	AutomationRuns int64
	StorageBytes   int64
	ActiveTasks    int64
}

// PeriodKey formats the monthly ledger key for a point in time.
func PeriodKey(at time.Time) string {
	return at.UTC().Format("2006-01")
}

// IncrementQuota atomically adds delta to one counter, refusing the update
// when it would push usage past limit. A limit of zero or below means
// unmetered. The conditional update and the ensure-insert run in one
// transaction so concurrent increments never overshoot.
func (s *Store) IncrementQuota(ctx context.Context, ownerID int64, period string, counter QuotaCounter, delta, limit int64) error {
	if delta < 0 {
		return fmt.Errorf("quota delta must not be negative, got %d", delta)
	}
	column, err := counterColumn(counter)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ensureContext(ctx),
			`INSERT INTO quota_usage (owner_id, period) VALUES (?, ?) ON CONFLICT (owner_id, period) DO NOTHING`,
			ownerID, period,
		); err != nil {
			return fmt.Errorf("ensure quota row: %w", err)
		}

		query := `UPDATE quota_usage SET ` + column + ` = ` + column + ` + ? WHERE owner_id = ? AND period = ?`
		args := []any{delta, ownerID, period}
		if limit > 0 {
			query += ` AND ` + column + ` + ? <= ?`
			args = append(args, delta, limit)
		}
		res, err := tx.ExecContext(ensureContext(ctx), query, args...)
		if err != nil {
			return fmt.Errorf("increment %s: %w", counter, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			usage, err := quotaValueTx(tx, ctx, ownerID, period, column)
			if err != nil {
				return err
			}
			return services.Wrap(
				services.ErrQuotaExceeded,
				"queue",
				"increment-quota",
				fmt.Sprintf("%s limit reached for owner %d: usage %d + %d exceeds %d", counter, ownerID, usage, delta, limit),
				nil,
			)
		}
		return nil
	})
}

// GetQuotaUsage reads an owner's ledger for one period. A missing row comes
// back as a zeroed ledger rather than an error. ActiveTasks is counted from
// the queue itself, so it reflects items currently enqueued regardless of
// which period they were dispatched in.
func (s *Store) GetQuotaUsage(ctx context.Context, ownerID int64, period string) (*QuotaUsage, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT owner_id, period, items_created, automation_runs, storage_bytes
         FROM quota_usage WHERE owner_id = ? AND period = ?`,
		ownerID, period,
	)
	usage := &QuotaUsage{OwnerID: ownerID, Period: period}
	err := row.Scan(&usage.OwnerID, &usage.Period, &usage.ItemsCreated, &usage.AutomationRuns, &usage.StorageBytes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get quota usage: %w", err)
	}
	active, err := s.ActiveTaskCount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	usage.ActiveTasks = active
	return usage, nil
}

func counterColumn(counter QuotaCounter) (string, error) {
	switch counter {
	case CounterItemsCreated, CounterAutomationRun, CounterStorageBytes:
		return string(counter), nil
	default:
		return "", fmt.Errorf("unknown quota counter %q", counter)
	}
}

func quotaValueTx(tx *sql.Tx, ctx context.Context, ownerID int64, period, column string) (int64, error) {
	var value int64
	err := tx.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+column+` FROM quota_usage WHERE owner_id = ? AND period = ?`,
		ownerID, period,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota usage: %w", err)
	}
	return value, nil
}
