package workflow

import (
	"log/slog"

	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// StageSet bundles the concrete executors the manager orchestrates.
type StageSet struct {
	Downloader  stage.Executor
	Processor   stage.Executor
	Transcriber stage.Executor
	Publisher   stage.Publisher
}

type pipelineStage struct {
	name             string
	executor         stage.Executor
	publisher        stage.Publisher
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

func (p pipelineStage) isPublish() bool {
	return p.publisher != nil
}

type laneState struct {
	name         string
	stages       []pipelineStage
	logger       *slog.Logger
	runReclaimer bool
}
