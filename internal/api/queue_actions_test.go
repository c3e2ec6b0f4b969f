package api

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/queue"
)

type mockMaintainer struct {
	items   map[int64]*queue.Item
	removed []int64
}

func (m *mockMaintainer) GetByID(_ context.Context, id int64) (*queue.Item, error) {
	return m.items[id], nil
}

func (m *mockMaintainer) Remove(_ context.Context, id int64) (bool, error) {
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	m.removed = append(m.removed, id)
	return true, nil
}

func (m *mockMaintainer) ClearCompleted(context.Context) (int64, error) { return 3, nil }
func (m *mockMaintainer) ClearFailed(context.Context) (int64, error)    { return 1, nil }

func TestRemoveItemsByIDRefusesClaimedItems(t *testing.T) {
	heartbeat := time.Now().UTC()
	store := &mockMaintainer{items: map[int64]*queue.Item{
		1: {ID: 1, Status: queue.StatusInitialized},
		2: {ID: 2, Status: queue.StatusProcessing, LastHeartbeat: &heartbeat},
		3: {ID: 3, Status: queue.StatusUploaded},
	}}
	result, err := RemoveItemsByID(context.Background(), store, []int64{1, 2, 3, 99})
	if err != nil {
		t.Fatalf("RemoveItemsByID returned error: %v", err)
	}
	if result.DeletedCount != 2 {
		t.Fatalf("unexpected deleted count: %d", result.DeletedCount)
	}
	outcomes := map[int64]RemoveItemOutcome{}
	for _, entry := range result.Items {
		outcomes[entry.ID] = entry.Outcome
	}
	if outcomes[1] != RemoveItemDeleted || outcomes[3] != RemoveItemDeleted {
		t.Fatalf("expected idle items deleted: %+v", outcomes)
	}
	if outcomes[2] != RemoveItemInFlight {
		t.Fatalf("expected claimed item refused: %+v", outcomes)
	}
	if outcomes[99] != RemoveItemNotFound {
		t.Fatalf("expected missing item reported: %+v", outcomes)
	}
}

func TestRemoveItemsByIDAllowsReenqueuedRows(t *testing.T) {
	// A processing-status row with no heartbeat is awaiting reclaim, not owned.
	store := &mockMaintainer{items: map[int64]*queue.Item{
		4: {ID: 4, Status: queue.StatusProcessing},
	}}
	result, err := RemoveItemsByID(context.Background(), store, []int64{4})
	if err != nil {
		t.Fatalf("RemoveItemsByID returned error: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected unclaimed row removed, got %+v", result)
	}
}

func TestClearHelpersReportCounts(t *testing.T) {
	store := &mockMaintainer{}
	if n, err := ClearCompletedItems(context.Background(), store); err != nil || n != 3 {
		t.Fatalf("unexpected clear completed result: %d %v", n, err)
	}
	if n, err := ClearFailedItems(context.Background(), store); err != nil || n != 1 {
		t.Fatalf("unexpected clear failed result: %d %v", n, err)
	}
}
