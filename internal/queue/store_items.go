package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewItemParams describes an item at ingestion time.
type NewItemParams struct {
	OwnerID      int64
	Title        string
	SourceID     int64
	MetadataJSON string
}

// NewItem inserts an item in the initialized state.
func (s *Store) NewItem(ctx context.Context, params NewItemParams) (*Item, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, errors.New("item title must not be empty")
	}
	if params.OwnerID <= 0 {
		return nil, errors.New("item owner must be set")
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO processed_items (
            owner_id, title, source_id, status, metadata_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		params.OwnerID,
		title,
		params.SourceID,
		StatusInitialized,
		nullableString(params.MetadataJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches an item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM processed_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing item.
//
// Status, failure markers, and retry counters are deliberately excluded:
// those mutate only through Transition, MarkFailed, Retry, and Reset so every
// status change goes through the edge table and the optimistic check.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE processed_items
         SET title = ?, source_id = ?, template_id = ?, is_mapped = ?,
             config_override_json = ?, metadata_json = ?, storage_bytes = ?,
             last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		item.Title,
		item.SourceID,
		nullableInt64(item.TemplateID),
		boolToInt(item.IsMapped),
		nullableString(item.ConfigOverride),
		nullableString(item.MetadataJSON),
		item.StorageBytes,
		nullableTime(item.LastHeartbeat),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// List returns items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	baseQuery := `SELECT ` + itemColumns + ` FROM processed_items`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListByTemplate returns the items currently mapped to a template.
func (s *Store) ListByTemplate(ctx context.Context, templateID int64) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM processed_items WHERE template_id = ? ORDER BY created_at, id`,
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items by template: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListUnmapped returns an owner's items with no template reference, oldest first.
func (s *Store) ListUnmapped(ctx context.Context, ownerID int64) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM processed_items WHERE owner_id = ? AND is_mapped = 0 ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list unmapped items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM processed_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// HealthSummary describes aggregated item counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Waiting    int
	Processing int
	Failed     int
	Completed  int
	Skipped    int
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == StatusFailed:
			health.Failed += count
		case status == StatusUploaded:
			health.Completed += count
		case status == StatusSkipped:
			health.Skipped += count
		case IsProcessingStatus(status):
			health.Processing += count
		default:
			health.Waiting += count
		}
	}
	return health, nil
}

// Remove deletes an item by identifier; target publications cascade. Storage
// accounted to the item is handed back to the owner's ledger for the current
// period in the same transaction.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var ownerID, storageBytes int64
		err := tx.QueryRowContext(
			ensureContext(ctx),
			`SELECT owner_id, storage_bytes FROM processed_items WHERE id = ?`,
			id,
		).Scan(&ownerID, &storageBytes)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read item: %w", err)
		}
		if storageBytes > 0 {
			if err := releaseStorageTx(tx, ctx, ownerID, storageBytes); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ensureContext(ctx), `DELETE FROM processed_items WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// ClearCompleted removes only fully uploaded items.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.clearWhere(ctx, "clear completed", `status = ?`, StatusUploaded)
}

// ClearFailed removes only failed items.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.clearWhere(ctx, "clear failed", `status = ?`, StatusFailed)
}

// Clear removes all items.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	return s.clearWhere(ctx, "clear items", `1 = 1`)
}

// clearWhere bulk-deletes items matching a predicate, crediting each owner's
// storage ledger for the bytes those items held before the rows go away.
func (s *Store) clearWhere(ctx context.Context, op, predicate string, args ...any) (int64, error) {
	var cleared int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(
			ensureContext(ctx),
			`SELECT owner_id, SUM(storage_bytes) FROM processed_items WHERE `+predicate+` GROUP BY owner_id`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("%s: sum storage: %w", op, err)
		}
		type handback struct {
			ownerID int64
			bytes   int64
		}
		var handbacks []handback
		for rows.Next() {
			var h handback
			if err := rows.Scan(&h.ownerID, &h.bytes); err != nil {
				rows.Close()
				return fmt.Errorf("%s: scan storage: %w", op, err)
			}
			handbacks = append(handbacks, h)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("%s: read storage: %w", op, err)
		}
		rows.Close()
		for _, h := range handbacks {
			if h.bytes <= 0 {
				continue
			}
			if err := releaseStorageTx(tx, ctx, h.ownerID, h.bytes); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ensureContext(ctx), `DELETE FROM processed_items WHERE `+predicate, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		cleared, err = res.RowsAffected()
		return err
	})
	return cleared, err
}

// releaseStorageTx credits storage back to the owner's current-period ledger,
// flooring at zero.
func releaseStorageTx(tx *sql.Tx, ctx context.Context, ownerID, bytes int64) error {
	if _, err := tx.ExecContext(
		ensureContext(ctx),
		`UPDATE quota_usage SET storage_bytes = MAX(0, storage_bytes - ?) WHERE owner_id = ? AND period = ?`,
		bytes, ownerID, PeriodKey(time.Now()),
	); err != nil {
		return fmt.Errorf("release storage: %w", err)
	}
	return nil
}

const itemColumns = "id, owner_id, title, source_id, status, enqueued, failed, failed_at_stage, retry_count, error_message, template_id, is_mapped, config_override_json, metadata_json, storage_bytes, last_heartbeat, created_at, updated_at"

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               int64
		ownerID          int64
		title            string
		sourceID         int64
		statusStr        string
		enqueued         int
		failed           int
		failedStage      sql.NullString
		retryCount       int
		errorMessage     sql.NullString
		templateID       sql.NullInt64
		isMapped         int
		configOverride   sql.NullString
		metadata         sql.NullString
		storageBytes     int64
		lastHeartbeatRaw sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&title,
		&sourceID,
		&statusStr,
		&enqueued,
		&failed,
		&failedStage,
		&retryCount,
		&errorMessage,
		&templateID,
		&isMapped,
		&configOverride,
		&metadata,
		&storageBytes,
		&lastHeartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:             id,
		OwnerID:        ownerID,
		Title:          title,
		SourceID:       sourceID,
		Status:         Status(statusStr),
		Enqueued:       enqueued != 0,
		Failed:         failed != 0,
		FailedAtStage:  Status(failedStage.String),
		RetryCount:     retryCount,
		ErrorMessage:   errorMessage.String,
		IsMapped:       isMapped != 0,
		ConfigOverride: configOverride.String,
		MetadataJSON:   metadata.String,
		StorageBytes:   storageBytes,
	}
	if templateID.Valid {
		v := templateID.Int64
		item.TemplateID = &v
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	return item, nil
}
