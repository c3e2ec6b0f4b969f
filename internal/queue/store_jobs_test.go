package queue_test

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func TestJobCRUD(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	next := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
	created, err := store.CreateJob(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "Nightly Sync",
		ScheduleJSON: `{"type":"hours","hours":6}`,
		SourceID:     42,
		TemplateIDs:  []int64{7},
		StatusFilter: []string{"initialized"},
		SyncParams:   map[string]any{"depth": float64(10)},
		Active:       true,
		NextRunAt:    &next,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if created.NextRunAt == nil || !created.NextRunAt.Equal(next) {
		t.Fatalf("next run not persisted: %#v", created.NextRunAt)
	}
	if len(created.TemplateIDs) != 1 || created.TemplateIDs[0] != 7 {
		t.Fatalf("template scope not round-tripped: %#v", created.TemplateIDs)
	}
	if created.SyncParams["depth"] != float64(10) {
		t.Fatalf("sync params not round-tripped: %#v", created.SyncParams)
	}

	created.Name = "Nightly Source Sync"
	created.Active = false
	if err := store.UpdateJob(ctx, created); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	updated, err := store.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.Name != "Nightly Source Sync" || updated.Active {
		t.Fatalf("update not persisted: %#v", updated)
	}

	removed, err := store.DeleteJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if !removed {
		t.Fatal("expected job to be deleted")
	}
	gone, err := store.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected nil after delete, got %#v", gone)
	}
}

func TestCreateJobValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	cases := []struct {
		name string
		job  queue.AutomationJob
	}{
		{"missing name", queue.AutomationJob{OwnerID: 1, ScheduleJSON: `{"type":"hours","hours":6}`}},
		{"missing owner", queue.AutomationJob{Name: "No Owner", ScheduleJSON: `{"type":"hours","hours":6}`}},
		{"missing schedule", queue.AutomationJob{OwnerID: 1, Name: "No Schedule"}},
	}
	for _, tc := range cases {
		if _, err := store.CreateJob(ctx, &tc.job); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestActiveJobsScopedAcrossOwners(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	mk := func(owner int64, name string, active bool) {
		if _, err := store.CreateJob(ctx, &queue.AutomationJob{
			OwnerID:      owner,
			Name:         name,
			ScheduleJSON: `{"type":"hours","hours":6}`,
			Active:       active,
		}); err != nil {
			t.Fatalf("CreateJob %s: %v", name, err)
		}
	}
	mk(1, "A", true)
	mk(1, "B", false)
	mk(2, "C", true)

	owned, err := store.ListJobs(ctx, 1)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 jobs for owner 1, got %d", len(owned))
	}

	active, err := store.ActiveJobs(ctx)
	if err != nil {
		t.Fatalf("ActiveJobs: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(active))
	}
}

func TestRecordJobRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.CreateJob(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "Counter",
		ScheduleJSON: `{"type":"hours","hours":6}`,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ranAt := time.Now().UTC().Truncate(time.Second)
	next := ranAt.Add(6 * time.Hour)
	if err := store.RecordJobRun(ctx, job.ID, ranAt, &next); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}
	if err := store.RecordJobRun(ctx, job.ID, ranAt.Add(6*time.Hour), nil); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}

	stamped, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stamped.RunCount != 2 {
		t.Fatalf("expected run count 2, got %d", stamped.RunCount)
	}
	if stamped.LastRunAt == nil {
		t.Fatal("expected last run stamped")
	}
	if stamped.NextRunAt != nil {
		t.Fatalf("expected next run cleared, got %v", stamped.NextRunAt)
	}
}
