package api

import (
	"encoding/json"
	"sort"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
	"conveyor/internal/workflow"
)

// FormatTime renders a timestamp for API payloads, empty when zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeFormat)
}

// FromQueueItem converts a queue item into its DTO.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	dto := QueueItem{
		ID:            item.ID,
		OwnerID:       item.OwnerID,
		Title:         item.Title,
		SourceID:      item.SourceID,
		Status:        string(item.Status),
		Failed:        item.Failed,
		FailedAtStage: string(item.FailedAtStage),
		RetryCount:    item.RetryCount,
		ErrorMessage:  item.ErrorMessage,
		TemplateID:    item.TemplateID,
		IsMapped:      item.IsMapped,
		StorageBytes:  item.StorageBytes,
		CreatedAt:     FormatTime(item.CreatedAt),
		UpdatedAt:     FormatTime(item.UpdatedAt),
	}
	if item.MetadataJSON != "" && json.Valid([]byte(item.MetadataJSON)) {
		dto.Metadata = json.RawMessage(item.MetadataJSON)
	}
	return dto
}

// FromQueueItems converts a slice of queue items, preserving order.
func FromQueueItems(items []*queue.Item) []QueueItem {
	result := make([]QueueItem, 0, len(items))
	for _, item := range items {
		result = append(result, FromQueueItem(item))
	}
	return result
}

// FromPublication converts a target publication row into its DTO.
func FromPublication(pub *queue.TargetPublication) Publication {
	if pub == nil {
		return Publication{}
	}
	return Publication{
		Target:       pub.Target,
		Status:       string(pub.Status),
		RetryCount:   pub.RetryCount,
		ErrorMessage: pub.ErrorMessage,
		UpdatedAt:    FormatTime(pub.UpdatedAt),
	}
}

// FromPublications converts publication rows, preserving order.
func FromPublications(pubs []*queue.TargetPublication) []Publication {
	result := make([]Publication, 0, len(pubs))
	for _, pub := range pubs {
		result = append(result, FromPublication(pub))
	}
	return result
}

// FromTemplate converts a template into its listing DTO.
func FromTemplate(tpl *queue.Template) TemplateSummary {
	if tpl == nil {
		return TemplateSummary{}
	}
	return TemplateSummary{
		ID:            tpl.ID,
		Name:          tpl.Name,
		MatchMode:     string(tpl.MatchMode),
		Names:         tpl.MatchNames,
		Fuzzy:         tpl.MatchFuzzy,
		Keywords:      tpl.MatchKeywords,
		Patterns:      tpl.MatchPatterns,
		SourceIDs:     tpl.MatchSourceIDs,
		OutputTargets: tpl.OutputTargets,
		AutoPublish:   tpl.AutoPublish,
		CreatedAt:     FormatTime(tpl.CreatedAt),
	}
}

// FromJob converts an automation job into its listing DTO.
func FromJob(job *queue.AutomationJob) JobSummary {
	if job == nil {
		return JobSummary{}
	}
	summary := JobSummary{
		ID:       job.ID,
		Name:     job.Name,
		Schedule: job.ScheduleJSON,
		SourceID: job.SourceID,
		Active:   job.Active,
		RunCount: job.RunCount,
	}
	if job.LastRunAt != nil {
		summary.LastRunAt = FormatTime(*job.LastRunAt)
	}
	if job.NextRunAt != nil {
		summary.NextRunAt = FormatTime(*job.NextRunAt)
	}
	return summary
}

// FromQuotaUsage combines recorded usage with configured limits.
func FromQuotaUsage(usage *queue.QuotaUsage, limits config.Quota) QuotaReport {
	report := QuotaReport{
		ItemLimit:    int64(limits.MonthlyItemLimit),
		RunLimit:     int64(limits.MonthlyAutomationLimit),
		StorageLimit: limits.StorageLimitBytes,
		TaskLimit:    int64(limits.ConcurrentTaskLimit),
	}
	if usage != nil {
		report.Period = usage.Period
		report.ItemsCreated = usage.ItemsCreated
		report.AutomationRuns = usage.AutomationRuns
		report.StorageBytes = usage.StorageBytes
		report.ActiveTasks = usage.ActiveTasks
	}
	return report
}

// FromStatusSummary converts workflow status into its DTO.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastError != "" {
		status.LastError = summary.LastError
	}
	if summary.LastItem != nil {
		item := FromQueueItem(summary.LastItem)
		status.LastItem = &item
	}
	return status
}

// MergeQueueStats folds typed status counts into the string-keyed map the
// API exposes, ensuring every known status appears even at zero.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	merged := make(map[string]int, len(stats))
	for _, status := range queue.AllStatuses() {
		merged[string(status)] = stats[status]
	}
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}

// StageHealthSlice flattens the health map into a slice sorted by stage name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	result := make([]StageHealth, 0, len(health))
	for name, entry := range health {
		result = append(result, StageHealth{
			Name:   name,
			Ready:  entry.Ready,
			Detail: entry.Detail,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
