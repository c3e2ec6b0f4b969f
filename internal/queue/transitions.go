package queue

import (
	"fmt"

	"conveyor/internal/services"
)

// allowedTransitions is the authoritative edge table for item statuses.
// The failure edge (any non-terminal status to failed) and the retry edges
// (failed back to a processing status) are handled below rather than listed
// per source status.
var allowedTransitions = map[Status][]Status{
	StatusInitialized:  {StatusDownloading, StatusSkipped},
	StatusDownloading:  {StatusDownloaded},
	StatusDownloaded:   {StatusProcessing},
	StatusProcessing:   {StatusProcessed},
	StatusProcessed:    {StatusTranscribing},
	StatusTranscribing: {StatusTranscribed},
	StatusTranscribed:  {StatusUploading},
	StatusUploading:    {StatusUploaded},
}

// retryTargets are the stages a failed item may resume at. Retry narrows the
// choice further to the recorded failed stage.
var retryTargets = map[Status]struct{}{
	StatusDownloading:  {},
	StatusProcessing:   {},
	StatusTranscribing: {},
	StatusUploading:    {},
}

// ValidateTransition reports whether the edge from -> to is allowed.
// It is a pure lookup with no side effects.
func ValidateTransition(from, to Status) error {
	if _, ok := statusSet[from]; !ok {
		return services.Wrap(services.ErrInvalidTransition, "queue", "validate", fmt.Sprintf("unknown status %q", from), nil)
	}
	if _, ok := statusSet[to]; !ok {
		return services.Wrap(services.ErrInvalidTransition, "queue", "validate", fmt.Sprintf("unknown status %q", to), nil)
	}
	if to == StatusFailed {
		if IsTerminal(from) || from == StatusFailed {
			return invalidEdge(from, to)
		}
		return nil
	}
	if from == StatusFailed {
		if _, ok := retryTargets[to]; ok {
			return nil
		}
		return invalidEdge(from, to)
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return nil
		}
	}
	return invalidEdge(from, to)
}

func invalidEdge(from, to Status) error {
	return services.Wrap(services.ErrInvalidTransition, "queue", "validate",
		fmt.Sprintf("%s -> %s is not an allowed transition", from, to), nil)
}

// NextStage returns the stage start status that follows a completed stage
// boundary, or false when the status has no automatic successor.
func NextStage(status Status) (Status, bool) {
	switch status {
	case StatusInitialized:
		return StatusDownloading, true
	case StatusDownloaded:
		return StatusProcessing, true
	case StatusProcessed:
		return StatusTranscribing, true
	case StatusTranscribed:
		return StatusUploading, true
	default:
		return "", false
	}
}

// stageStartFor maps an in-flight processing status back to the stage start
// status a reclaimed item should return to.
var stageStartFor = map[Status]Status{
	StatusDownloading:  StatusInitialized,
	StatusProcessing:   StatusDownloaded,
	StatusTranscribing: StatusProcessed,
	StatusUploading:    StatusTranscribed,
}

// StageStart returns the resting status preceding an in-flight status.
func StageStart(processing Status) (Status, bool) {
	start, ok := stageStartFor[processing]
	return start, ok
}
