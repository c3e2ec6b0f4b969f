package workflow

import "conveyor/internal/queue"

// ConfigureStages registers the concrete executors the workflow will run.
// Download, process, and transcribe share one lane so an item moves through
// them in order; publication runs in its own lane so uploads of item A can
// proceed while item B transcribes.
func (m *Manager) ConfigureStages(set StageSet) {
	pipeline := &laneState{name: "pipeline"}
	publish := &laneState{name: "publish"}

	if set.Downloader != nil {
		pipeline.stages = append(pipeline.stages, pipelineStage{
			name:             "download",
			executor:         set.Downloader,
			startStatus:      queue.StatusInitialized,
			processingStatus: queue.StatusDownloading,
			doneStatus:       queue.StatusDownloaded,
		})
	}
	if set.Processor != nil {
		pipeline.stages = append(pipeline.stages, pipelineStage{
			name:             "process",
			executor:         set.Processor,
			startStatus:      queue.StatusDownloaded,
			processingStatus: queue.StatusProcessing,
			doneStatus:       queue.StatusProcessed,
		})
	}
	if set.Transcriber != nil {
		pipeline.stages = append(pipeline.stages, pipelineStage{
			name:             "transcribe",
			executor:         set.Transcriber,
			startStatus:      queue.StatusProcessed,
			processingStatus: queue.StatusTranscribing,
			doneStatus:       queue.StatusTranscribed,
		})
	}
	if set.Publisher != nil {
		publish.stages = append(publish.stages, pipelineStage{
			name:             "publish",
			publisher:        set.Publisher,
			startStatus:      queue.StatusTranscribed,
			processingStatus: queue.StatusUploading,
			doneStatus:       queue.StatusUploaded,
		})
	}

	lanes := make([]*laneState, 0, 2)
	if len(pipeline.stages) > 0 {
		// One reclaimer per manager is enough; it sweeps all in-flight
		// statuses regardless of lane.
		pipeline.runReclaimer = true
		lanes = append(lanes, pipeline)
	}
	if len(publish.stages) > 0 {
		publish.runReclaimer = len(lanes) == 0
		lanes = append(lanes, publish)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.mu.Unlock()
}
