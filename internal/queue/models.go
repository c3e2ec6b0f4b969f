package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a processed item.
type Status string

const (
	StatusInitialized  Status = "initialized"
	StatusDownloading  Status = "downloading"
	StatusDownloaded   Status = "downloaded"
	StatusProcessing   Status = "processing"
	StatusProcessed    Status = "processed"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusUploading    Status = "uploading"
	StatusUploaded     Status = "uploaded"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
)

// DaemonStopReason is the error message set when items are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusInitialized,
	StatusDownloading,
	StatusDownloaded,
	StatusProcessing,
	StatusProcessed,
	StatusTranscribing,
	StatusTranscribed,
	StatusUploading,
	StatusUploaded,
	StatusFailed,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// processingStatuses are the in-flight states claimed by a worker.
var processingStatuses = map[Status]struct{}{
	StatusDownloading:  {},
	StatusProcessing:   {},
	StatusTranscribing: {},
	StatusUploading:    {},
}

var terminalStatuses = map[Status]struct{}{
	StatusUploaded: {},
	StatusSkipped:  {},
}

// Item represents a processed media item persisted in SQLite.
type Item struct {
	ID             int64
	OwnerID        int64
	Title          string
	SourceID       int64
	Status         Status
	Enqueued       bool // set by dispatch; workers only pick up enqueued items
	Failed         bool
	FailedAtStage  Status // empty unless Failed
	RetryCount     int
	ErrorMessage   string
	TemplateID     *int64
	IsMapped       bool
	ConfigOverride string // JSON mapping, item-level resolver layer
	MetadataJSON   string
	StorageBytes   int64
	LastHeartbeat  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsProcessing returns true when the item is currently claimed by a worker.
func (i Item) IsProcessing() bool {
	return IsProcessingStatus(i.Status)
}

// SetFailed marks the item as failed at the given stage with the error message.
// All failure mutation funnels through here, Retry, and Reset so the
// failed/failed_at_stage invariant holds.
func (i *Item) SetFailed(stage Status, message string) {
	i.Status = StatusFailed
	i.Failed = true
	i.FailedAtStage = stage
	i.ErrorMessage = message
	i.LastHeartbeat = nil
}

// ClearFailure resets failure markers ahead of a retry.
func (i *Item) ClearFailure() {
	i.Failed = false
	i.FailedAtStage = ""
	i.ErrorMessage = ""
}
