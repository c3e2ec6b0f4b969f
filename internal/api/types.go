package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"ownerId"`
	Title         string          `json:"title"`
	SourceID      int64           `json:"sourceId,omitempty"`
	Status        string          `json:"status"`
	Failed        bool            `json:"failed"`
	FailedAtStage string          `json:"failedAtStage,omitempty"`
	RetryCount    int             `json:"retryCount"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	TemplateID    *int64          `json:"templateId,omitempty"`
	IsMapped      bool            `json:"isMapped"`
	StorageBytes  int64           `json:"storageBytes"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// Publication describes one target publication row.
type Publication struct {
	Target       string `json:"target"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retryCount"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// ItemDetail pairs an item with its publications.
type ItemDetail struct {
	Item         QueueItem     `json:"item"`
	Publications []Publication `json:"publications,omitempty"`
}

// TemplateSummary describes a template for listings.
type TemplateSummary struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	MatchMode     string   `json:"matchMode"`
	Names         []string `json:"names,omitempty"`
	Fuzzy         []string `json:"fuzzy,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Patterns      []string `json:"patterns,omitempty"`
	SourceIDs     []int64  `json:"sourceIds,omitempty"`
	OutputTargets []string `json:"outputTargets,omitempty"`
	AutoPublish   bool     `json:"autoPublish"`
	CreatedAt     string   `json:"createdAt,omitempty"`
}

// JobSummary describes an automation job for listings.
type JobSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	SourceID  int64  `json:"sourceId,omitempty"`
	Active    bool   `json:"active"`
	LastRunAt string `json:"lastRunAt,omitempty"`
	NextRunAt string `json:"nextRunAt,omitempty"`
	RunCount  int    `json:"runCount"`
}

// QuotaReport describes an owner's usage against configured limits.
type QuotaReport struct {
	Period         string `json:"period"`
	ItemsCreated   int64  `json:"itemsCreated"`
	ItemLimit      int64  `json:"itemLimit,omitempty"`
	AutomationRuns int64  `json:"automationRuns"`
	RunLimit       int64  `json:"runLimit,omitempty"`
	StorageBytes   int64  `json:"storageBytes"`
	StorageLimit   int64  `json:"storageLimit,omitempty"`
	ActiveTasks    int64  `json:"activeTasks"`
	TaskLimit      int64  `json:"taskLimit,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastItem    *QueueItem     `json:"lastItem,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}
