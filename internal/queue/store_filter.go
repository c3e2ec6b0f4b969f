package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conveyor/internal/services"
)

// PseudoStatusFailed is accepted in filter status lists and maps onto the
// failed flag rather than a real status value.
const PseudoStatusFailed = "failed"

// ItemFilter selects items for bulk operations. Zero-valued fields are
// ignored; pointers distinguish "unset" from a deliberate false/zero.
type ItemFilter struct {
	OwnerID    int64      `json:"owner_id,omitempty"`
	Status     []string   `json:"status,omitempty"`
	TemplateID *int64     `json:"template_id,omitempty"`
	SourceID   *int64     `json:"source_id,omitempty"`
	IsMapped   *bool      `json:"is_mapped,omitempty"`
	Failed     *bool      `json:"failed,omitempty"`
	FromDate   *time.Time `json:"from_date,omitempty"`
	ToDate     *time.Time `json:"to_date,omitempty"`
	OrderBy    string     `json:"order_by,omitempty"`
	Order      string     `json:"order,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

var filterOrderColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"id":         "id",
	"title":      "title",
	"status":     "status",
}

// ResolveFilter evaluates a filter against the item table and returns matching
// ids in filter order. Pure with respect to item state: nothing is mutated, so
// the dry-run path shares it. maxLimit is the hard cardinality ceiling;
// defaultLimit applies when the filter does not name one.
func (s *Store) ResolveFilter(ctx context.Context, filter ItemFilter, defaultLimit, maxLimit int) ([]int64, error) {
	where, args, err := buildFilterClauses(filter)
	if err != nil {
		return nil, err
	}

	column, ok := filterOrderColumns[filter.OrderBy]
	if filter.OrderBy != "" && !ok {
		return nil, services.Wrap(services.ErrValidation, "queue", "resolve-filter",
			fmt.Sprintf("unknown order_by %q", filter.OrderBy), nil)
	}
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	switch strings.ToLower(filter.Order) {
	case "", "asc":
	case "desc":
		direction = "DESC"
	default:
		return nil, services.Wrap(services.ErrValidation, "queue", "resolve-filter",
			fmt.Sprintf("order must be asc or desc, got %q", filter.Order), nil)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id FROM processed_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT ?`, column, direction, direction)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve filter: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func buildFilterClauses(filter ItemFilter) ([]string, []any, error) {
	var where []string
	var args []any

	if filter.OwnerID > 0 {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	if len(filter.Status) > 0 {
		var statuses []any
		wantFailed := false
		for _, raw := range filter.Status {
			if strings.EqualFold(raw, PseudoStatusFailed) {
				wantFailed = true
				continue
			}
			status, ok := ParseStatus(raw)
			if !ok {
				return nil, nil, services.Wrap(services.ErrValidation, "queue", "resolve-filter",
					fmt.Sprintf("unknown status %q", raw), nil)
			}
			statuses = append(statuses, string(status))
		}
		switch {
		case len(statuses) > 0 && wantFailed:
			where = append(where, `(status IN (`+makePlaceholders(len(statuses))+`) OR failed = 1)`)
			args = append(args, statuses...)
		case len(statuses) > 0:
			where = append(where, `status IN (`+makePlaceholders(len(statuses))+`)`)
			args = append(args, statuses...)
		case wantFailed:
			where = append(where, "failed = 1")
		}
	}

	if filter.Failed != nil {
		where = append(where, "failed = ?")
		args = append(args, boolToInt(*filter.Failed))
	}
	if filter.TemplateID != nil {
		where = append(where, "template_id = ?")
		args = append(args, *filter.TemplateID)
	}
	if filter.SourceID != nil {
		where = append(where, "source_id = ?")
		args = append(args, *filter.SourceID)
	}
	if filter.IsMapped != nil {
		where = append(where, "is_mapped = ?")
		args = append(args, boolToInt(*filter.IsMapped))
	}
	if filter.FromDate != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.FromDate.UTC().Format(time.RFC3339Nano))
	}
	if filter.ToDate != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.ToDate.UTC().Format(time.RFC3339Nano))
	}
	return where, args, nil
}
