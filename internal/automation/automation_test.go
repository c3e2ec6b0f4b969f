package automation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"conveyor/internal/automation"
	"conveyor/internal/config"
	"conveyor/internal/dispatch"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
	"conveyor/internal/services"
	"conveyor/internal/sourcesync"
	"conveyor/internal/templates"
	"conveyor/internal/testsupport"
)

type fixture struct {
	cfg    *config.Config
	store  *queue.Store
	ledger *quota.Ledger
	jobs   *automation.Service
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	return &fixture{
		cfg:    cfg,
		store:  store,
		ledger: quota.NewLedger(store, cfg.Quota),
		jobs:   automation.NewService(store, cfg.Automation, logging.NewNop()),
	}
}

func (f *fixture) engine(t *testing.T, sources automation.SourceRegistry) *automation.Engine {
	t.Helper()
	matcher := templates.NewService(f.store, logging.NewNop())
	ingestor := sourcesync.NewIngestor(f.store, f.ledger, matcher, logging.NewNop())
	dispatcher := dispatch.New(f.store, f.ledger, f.cfg.Dispatch, logging.NewNop())
	return automation.NewEngine(f.store, ingestor, dispatcher, f.ledger, nil, sources, f.cfg, logging.NewNop())
}

const dailySchedule = `{"type":"time_of_day","time":"06:30","timezone":"UTC"}`

func TestServiceCreateComputesNextRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "nightly",
		ScheduleJSON: dailySchedule,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.NextRunAt == nil {
		t.Fatalf("next run not computed")
	}
	if job.NextRunAt.UTC().Hour() != 6 || job.NextRunAt.UTC().Minute() != 30 {
		t.Fatalf("next run at wrong time: %v", job.NextRunAt)
	}
	if !job.NextRunAt.After(time.Now()) {
		t.Fatalf("next run must be in the future: %v", job.NextRunAt)
	}
}

func TestServiceRejectsTooFrequentSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "every-20-minutes",
		ScheduleJSON: `{"type":"cron","expression":"*/20 * * * *"}`,
	})
	if !errors.Is(err, services.ErrScheduleValidation) {
		t.Fatalf("expected schedule validation error, got %v", err)
	}

	_, err = f.jobs.Create(ctx, &queue.AutomationJob{OwnerID: 1, Name: "empty"})
	if !errors.Is(err, services.ErrScheduleValidation) {
		t.Fatalf("empty schedule: expected validation error, got %v", err)
	}
}

func TestEngineFireSyncsMatchesAndDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tpl, err := f.store.CreateTemplate(ctx, &queue.Template{
		OwnerID:       1,
		Name:          "ml",
		MatchKeywords: []string{"ML"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	job, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "course-sync",
		ScheduleJSON: dailySchedule,
		SourceID:     9,
		TemplateIDs:  []int64{tpl.ID},
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create job: %v", err)
	}

	source := sourcesync.SourceFunc(func(context.Context, int64, map[string]any) ([]sourcesync.Recording, error) {
		return []sourcesync.Recording{
			{Title: "Intro to ML 101"},
			{Title: "History 101"},
		}, nil
	})
	engine := f.engine(t, func(sourceID int64) sourcesync.Source {
		if sourceID == 9 {
			return source
		}
		return nil
	})

	if err := engine.Fire(ctx, job); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	items, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 ingested items, got %d", len(items))
	}
	mapped := 0
	for _, item := range items {
		if item.TemplateID != nil && *item.TemplateID == tpl.ID {
			mapped++
		}
	}
	if mapped != 1 {
		t.Fatalf("expected exactly one item mapped into scope, got %d", mapped)
	}

	updated, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.RunCount != 1 || updated.LastRunAt == nil {
		t.Fatalf("run not recorded: %+v", updated)
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.After(time.Now()) {
		t.Fatalf("next run not advanced: %v", updated.NextRunAt)
	}
}

func TestEngineFireWithNoEligibleItemsSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      3,
		Name:         "quiet",
		ScheduleJSON: dailySchedule,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create job: %v", err)
	}

	engine := f.engine(t, nil)
	if err := engine.Fire(ctx, job); err != nil {
		t.Fatalf("Fire with empty queue should succeed: %v", err)
	}

	updated, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.RunCount != 1 {
		t.Fatalf("empty run should still count: %+v", updated)
	}
}

func TestEngineQuotaRefusalSkipsRunButAdvancesSchedule(t *testing.T) {
	f := newFixture(t, testsupport.WithQuota(config.Quota{MonthlyAutomationLimit: 1}))
	ctx := context.Background()

	job, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "rationed",
		ScheduleJSON: dailySchedule,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create job: %v", err)
	}

	engine := f.engine(t, nil)
	if err := engine.Fire(ctx, job); err != nil {
		t.Fatalf("first Fire: %v", err)
	}
	afterFirst, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	if err := engine.Fire(ctx, afterFirst); err != nil {
		t.Fatalf("quota-refused Fire should not error: %v", err)
	}
	afterSecond, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if afterSecond.RunCount != 1 {
		t.Fatalf("refused run must not count: %+v", afterSecond)
	}
	if afterSecond.NextRunAt == nil || !afterSecond.NextRunAt.After(time.Now()) {
		t.Fatalf("schedule must still advance: %v", afterSecond.NextRunAt)
	}
}

func TestEngineRunDueFiresOnlyDueJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "due",
		ScheduleJSON: dailySchedule,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	due.NextRunAt = &past
	if err := f.store.UpdateJob(ctx, due); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if _, err := f.jobs.Create(ctx, &queue.AutomationJob{
		OwnerID:      1,
		Name:         "future",
		ScheduleJSON: dailySchedule,
		Active:       true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	engine := f.engine(t, nil)
	engine.RunDue(ctx)

	jobs, err := f.store.ListJobs(ctx, 1)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	for _, job := range jobs {
		want := 0
		if job.Name == "due" {
			want = 1
		}
		if job.RunCount != want {
			t.Fatalf("job %s run count = %d, want %d", job.Name, job.RunCount, want)
		}
	}
}
