package queue

import (
	"fmt"
	"time"

	"conveyor/internal/services"
)

// TargetStatus represents the lifecycle of one publication target.
type TargetStatus string

const (
	TargetNotUploaded TargetStatus = "not_uploaded"
	TargetUploading   TargetStatus = "uploading"
	TargetUploaded    TargetStatus = "uploaded"
	TargetFailed      TargetStatus = "failed"
)

// TargetPublication tracks one (item, target platform) publication. Each row
// advances independently of its siblings so one platform's failure never
// blocks or rolls back another's success.
type TargetPublication struct {
	ItemID       int64
	Target       string
	Status       TargetStatus
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var targetTransitions = map[TargetStatus][]TargetStatus{
	TargetNotUploaded: {TargetUploading, TargetFailed},
	TargetUploading:   {TargetUploaded, TargetFailed},
	TargetFailed:      {TargetUploading},
}

// ValidateTargetTransition reports whether the publication edge is allowed.
// Uploaded is terminal.
func ValidateTargetTransition(from, to TargetStatus) error {
	for _, candidate := range targetTransitions[from] {
		if candidate == to {
			return nil
		}
	}
	return services.Wrap(services.ErrInvalidTransition, "queue", "validate-target",
		fmt.Sprintf("%s -> %s is not an allowed publication transition", from, to), nil)
}
