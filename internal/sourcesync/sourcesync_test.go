package sourcesync_test

import (
	"context"
	"errors"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
	"conveyor/internal/services"
	"conveyor/internal/sourcesync"
	"conveyor/internal/templates"
	"conveyor/internal/testsupport"
)

func newIngestor(t *testing.T, opts ...testsupport.ConfigOption) (*sourcesync.Ingestor, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	ledger := quota.NewLedger(store, cfg.Quota)
	matcher := templates.NewService(store, logging.NewNop())
	return sourcesync.NewIngestor(store, ledger, matcher, logging.NewNop()), store
}

func fixedSource(recordings ...sourcesync.Recording) sourcesync.Source {
	return sourcesync.SourceFunc(func(context.Context, int64, map[string]any) ([]sourcesync.Recording, error) {
		return recordings, nil
	})
}

func TestSyncCreatesInitializedItems(t *testing.T) {
	ingestor, store := newIngestor(t)
	ctx := context.Background()

	result, err := ingestor.Sync(ctx, 1, 7, fixedSource(
		sourcesync.Recording{Title: "Lecture 1", Metadata: map[string]any{"duration": 3600}},
		sourcesync.Recording{Title: "Lecture 2"},
		sourcesync.Recording{Title: "   "},
	), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Discovered != 3 || len(result.Created) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, item := range result.Created {
		loaded, err := store.GetByID(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if loaded.Status != queue.StatusInitialized || loaded.SourceID != 7 || loaded.OwnerID != 1 {
			t.Fatalf("bad ingested item: %+v", loaded)
		}
	}
}

func TestSyncAutoMatchesTemplates(t *testing.T) {
	ingestor, store := newIngestor(t)
	ctx := context.Background()

	tpl, err := store.CreateTemplate(ctx, &queue.Template{
		OwnerID:       1,
		Name:          "ml-course",
		MatchKeywords: []string{"ML"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	result, err := ingestor.Sync(ctx, 1, 3, fixedSource(
		sourcesync.Recording{Title: "Intro to ML 101"},
		sourcesync.Recording{Title: "History 101"},
	), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Matched != 1 {
		t.Fatalf("expected exactly one match, got %d", result.Matched)
	}

	matched, err := store.GetByID(ctx, result.Created[0].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if matched.TemplateID == nil || *matched.TemplateID != tpl.ID || !matched.IsMapped {
		t.Fatalf("first recording should map to template: %+v", matched)
	}
	unmatched, err := store.GetByID(ctx, result.Created[1].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if unmatched.TemplateID != nil {
		t.Fatalf("second recording should stay unmapped: %+v", unmatched)
	}
}

func TestSyncStopsAtCreationQuota(t *testing.T) {
	ingestor, store := newIngestor(t, testsupport.WithQuota(config.Quota{MonthlyItemLimit: 2}))
	ctx := context.Background()

	result, err := ingestor.Sync(ctx, 5, 1, fixedSource(
		sourcesync.Recording{Title: "a"},
		sourcesync.Recording{Title: "b"},
		sourcesync.Recording{Title: "c"},
		sourcesync.Recording{Title: "d"},
	), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Created) != 2 || !result.LimitReached {
		t.Fatalf("expected truncation at quota: %+v", result)
	}

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 persisted items, got %d", len(items))
	}
}

func TestSyncWrapsSourceFailure(t *testing.T) {
	ingestor, _ := newIngestor(t)
	ctx := context.Background()

	broken := sourcesync.SourceFunc(func(context.Context, int64, map[string]any) ([]sourcesync.Recording, error) {
		return nil, errors.New("feed unreachable")
	})
	_, err := ingestor.Sync(ctx, 1, 1, broken, nil)
	if !errors.Is(err, services.ErrStage) {
		t.Fatalf("expected stage error, got %v", err)
	}

	if _, err := ingestor.Sync(ctx, 1, 1, nil, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("nil source: expected validation error, got %v", err)
	}
}
