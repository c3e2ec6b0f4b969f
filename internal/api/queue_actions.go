package api

import (
	"context"

	"conveyor/internal/queue"
)

// QueueMaintainer captures queue operations needed by removal workflows.
type QueueMaintainer interface {
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
	Remove(ctx context.Context, id int64) (bool, error)
	ClearCompleted(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
}

type RemoveItemOutcome string

const (
	RemoveItemDeleted  RemoveItemOutcome = "deleted"
	RemoveItemNotFound RemoveItemOutcome = "not_found"
	RemoveItemInFlight RemoveItemOutcome = "in_flight"
)

type RemoveItemResult struct {
	ID          int64             `json:"id"`
	Outcome     RemoveItemOutcome `json:"outcome"`
	PriorStatus string            `json:"prior_status,omitempty"`
}

type RemoveItemsResult struct {
	DeletedCount int64              `json:"deletedCount"`
	Items        []RemoveItemResult `json:"items"`
}

// RemoveItemsByID deletes queue items, refusing rows a worker currently owns.
func RemoveItemsByID(ctx context.Context, store QueueMaintainer, ids []int64) (RemoveItemsResult, error) {
	result := RemoveItemsResult{Items: make([]RemoveItemResult, 0, len(ids))}
	for _, id := range ids {
		item, err := store.GetByID(ctx, id)
		if err != nil {
			return RemoveItemsResult{}, err
		}
		if item == nil {
			result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: RemoveItemNotFound})
			continue
		}
		if queue.IsProcessingStatus(item.Status) && item.LastHeartbeat != nil {
			result.Items = append(result.Items, RemoveItemResult{
				ID:          id,
				Outcome:     RemoveItemInFlight,
				PriorStatus: string(item.Status),
			})
			continue
		}
		removed, err := store.Remove(ctx, id)
		if err != nil {
			return RemoveItemsResult{}, err
		}
		if removed {
			result.DeletedCount++
			result.Items = append(result.Items, RemoveItemResult{
				ID:          id,
				Outcome:     RemoveItemDeleted,
				PriorStatus: string(item.Status),
			})
			continue
		}
		result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: RemoveItemNotFound})
	}
	return result, nil
}

// ClearCompletedItems removes uploaded items and reports how many rows went away.
func ClearCompletedItems(ctx context.Context, store QueueMaintainer) (int64, error) {
	return store.ClearCompleted(ctx)
}

// ClearFailedItems removes failed items and reports how many rows went away.
func ClearFailedItems(ctx context.Context, store QueueMaintainer) (int64, error) {
	return store.ClearFailed(ctx)
}
