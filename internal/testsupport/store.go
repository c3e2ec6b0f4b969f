package testsupport

import (
	"context"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewItem creates a queue item for tests using the provided store.
func NewItem(t testing.TB, store *queue.Store, ownerID int64, title string) *queue.Item {
	t.Helper()

	item, err := store.NewItem(context.Background(), queue.NewItemParams{
		OwnerID: ownerID,
		Title:   title,
	})
	if err != nil {
		t.Fatalf("store.NewItem: %v", err)
	}
	return item
}

// EnqueueItem marks an item dispatched with an unmetered concurrency limit so
// stage workers can pick it up.
func EnqueueItem(t testing.TB, store *queue.Store, item *queue.Item) {
	t.Helper()

	if err := store.Enqueue(context.Background(), item.ID, item.OwnerID, 0); err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
}

// lifecycleChain is the happy-path status order used by AdvanceTo.
var lifecycleChain = []queue.Status{
	queue.StatusInitialized,
	queue.StatusDownloading,
	queue.StatusDownloaded,
	queue.StatusProcessing,
	queue.StatusProcessed,
	queue.StatusTranscribing,
	queue.StatusTranscribed,
	queue.StatusUploading,
	queue.StatusUploaded,
}

// AdvanceTo walks an item forward through its lifecycle until status is
// reached, applying each intermediate transition in order.
func AdvanceTo(t testing.TB, store *queue.Store, item *queue.Item, status queue.Status) *queue.Item {
	t.Helper()

	ctx := context.Background()
	current := item
	for current.Status != status {
		next := queue.Status("")
		for i, step := range lifecycleChain {
			if step == current.Status && i+1 < len(lifecycleChain) {
				next = lifecycleChain[i+1]
				break
			}
		}
		if next == "" {
			t.Fatalf("no path from %s to %s", current.Status, status)
		}
		if err := store.Transition(ctx, current.ID, current.Status, next); err != nil {
			t.Fatalf("transition %s -> %s: %v", current.Status, next, err)
		}
		updated, err := store.GetByID(ctx, current.ID)
		if err != nil {
			t.Fatalf("reload item: %v", err)
		}
		current = updated
	}
	return current
}
