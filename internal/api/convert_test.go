package api

import (
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
	"conveyor/internal/workflow"
)

func TestFromQueueItemCarriesFailureState(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	tplID := int64(7)
	item := &queue.Item{
		ID:            4,
		OwnerID:       2,
		Title:         "Lecture 12",
		SourceID:      9,
		Status:        queue.StatusFailed,
		Failed:        true,
		FailedAtStage: queue.StatusProcessing,
		RetryCount:    2,
		ErrorMessage:  "encoder crashed",
		TemplateID:    &tplID,
		IsMapped:      true,
		StorageBytes:  1024,
		MetadataJSON:  `{"course":"algorithms"}`,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	dto := FromQueueItem(item)
	if dto.Status != "failed" || !dto.Failed || dto.FailedAtStage != "processing" {
		t.Fatalf("failure state not carried: %+v", dto)
	}
	if dto.TemplateID == nil || *dto.TemplateID != 7 {
		t.Fatalf("template id not carried: %+v", dto.TemplateID)
	}
	if string(dto.Metadata) != `{"course":"algorithms"}` {
		t.Fatalf("metadata not carried: %s", dto.Metadata)
	}
	if dto.CreatedAt != "2026-03-14T09:26:53.000Z" {
		t.Fatalf("unexpected timestamp format: %q", dto.CreatedAt)
	}
}

func TestFromQueueItemDropsInvalidMetadata(t *testing.T) {
	dto := FromQueueItem(&queue.Item{ID: 1, MetadataJSON: "{broken"})
	if dto.Metadata != nil {
		t.Fatalf("expected invalid metadata to be dropped, got %s", dto.Metadata)
	}
}

func TestMergeQueueStatsIncludesZeroCounts(t *testing.T) {
	merged := MergeQueueStats(map[queue.Status]int{queue.StatusInitialized: 3})
	if merged["initialized"] != 3 {
		t.Fatalf("unexpected initialized count: %d", merged["initialized"])
	}
	if count, ok := merged["uploaded"]; !ok || count != 0 {
		t.Fatalf("expected uploaded to appear at zero, got %d (present %v)", count, ok)
	}
}

func TestFromStatusSummarySortsStageHealth(t *testing.T) {
	summary := workflow.StatusSummary{
		Running: true,
		StageHealth: map[string]stage.Health{
			"transcribe": stage.Unhealthy("transcribe", "model missing"),
			"download":   stage.Healthy("download"),
		},
	}
	status := FromStatusSummary(summary)
	if !status.Running {
		t.Fatal("expected running status")
	}
	if len(status.StageHealth) != 2 || status.StageHealth[0].Name != "download" {
		t.Fatalf("expected sorted stage health, got %+v", status.StageHealth)
	}
	if status.StageHealth[1].Ready || status.StageHealth[1].Detail != "model missing" {
		t.Fatalf("unhealthy stage not carried: %+v", status.StageHealth[1])
	}
}

func TestFromJobFormatsRunTimes(t *testing.T) {
	last := time.Date(2026, 1, 2, 6, 30, 0, 0, time.UTC)
	next := last.Add(24 * time.Hour)
	summary := FromJob(&queue.AutomationJob{
		ID:        3,
		Name:      "nightly",
		LastRunAt: &last,
		NextRunAt: &next,
		RunCount:  5,
	})
	if summary.LastRunAt != "2026-01-02T06:30:00.000Z" {
		t.Fatalf("unexpected last run: %q", summary.LastRunAt)
	}
	if summary.NextRunAt != "2026-01-03T06:30:00.000Z" {
		t.Fatalf("unexpected next run: %q", summary.NextRunAt)
	}
}

func TestFromQuotaUsageMergesLimits(t *testing.T) {
	report := FromQuotaUsage(&queue.QuotaUsage{
		Period:       "2026-03",
		ItemsCreated: 12,
		StorageBytes: 2048,
	}, config.Quota{MonthlyItemLimit: 50, StorageLimitBytes: 4096})
	if report.Period != "2026-03" || report.ItemsCreated != 12 {
		t.Fatalf("usage not carried: %+v", report)
	}
	if report.ItemLimit != 50 || report.StorageLimit != 4096 {
		t.Fatalf("limits not carried: %+v", report)
	}
}
