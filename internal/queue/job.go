package queue

import "time"

// AutomationJob is a recurring trigger: on each firing it syncs a source,
// rematches newly visible items against its template scope, and dispatches
// the matches. ScheduleJSON carries the tagged-union descriptor owned by the
// schedule package.
type AutomationJob struct {
	ID               int64
	OwnerID          int64
	Name             string
	ScheduleJSON     string
	SourceID         int64
	TemplateIDs      []int64
	StatusFilter     []string
	SyncParams       map[string]any
	ProcessingParams map[string]any
	Active           bool
	LastRunAt        *time.Time
	NextRunAt        *time.Time
	RunCount         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
