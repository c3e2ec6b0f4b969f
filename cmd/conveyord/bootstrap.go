package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"conveyor/internal/automation"
	"conveyor/internal/config"
	"conveyor/internal/fileutil"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/sourcesync"
	"conveyor/internal/stage"
	"conveyor/internal/textutil"
	"conveyor/internal/workflow"
)

// localExecutor is the built-in stage implementation: it records its run as a
// marker file in the staging directory. Deployments replace these with real
// download/process/transcribe executors through ConfigureStages.
type localExecutor struct {
	name       string
	stagingDir string
	logger     *slog.Logger
}

func newLocalExecutor(name string, cfg *config.Config, logger *slog.Logger) *localExecutor {
	return &localExecutor{
		name:       name,
		stagingDir: cfg.Paths.StagingDir,
		logger:     logging.NewComponentLogger(logger, "stage-"+name),
	}
}

func (e *localExecutor) Run(ctx context.Context, item *queue.Item, effective map[string]any) (stage.Artifact, error) {
	dir := filepath.Join(e.stagingDir, fmt.Sprintf("item-%d", item.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stage.Artifact{}, fmt.Errorf("create item staging dir: %w", err)
	}
	path := filepath.Join(dir, e.name+".marker")
	content := fmt.Sprintf("%s: %s\n", e.name, item.Title)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return stage.Artifact{}, fmt.Errorf("write stage marker: %w", err)
	}
	e.logger.InfoContext(ctx, "stage marker written",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("path", path))
	return stage.Artifact{Path: path, Bytes: int64(len(content))}, nil
}

func (e *localExecutor) HealthCheck() stage.Health {
	if _, err := os.Stat(e.stagingDir); err != nil {
		return stage.Unhealthy(e.name, fmt.Sprintf("staging dir unavailable: %v", err))
	}
	return stage.Healthy(e.name)
}

// localPublisher copies the transcribed item's marker into a per-target
// directory under the media dir, standing in for a platform upload.
type localPublisher struct {
	stagingDir string
	mediaDir   string
	logger     *slog.Logger
}

func (p *localPublisher) Publish(ctx context.Context, item *queue.Item, target string, effective map[string]any) error {
	dir := filepath.Join(p.mediaDir, textutil.SanitizeFileName(target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("item-%d.published", item.ID))
	staged := filepath.Join(p.stagingDir, fmt.Sprintf("item-%d", item.ID), "transcribe.marker")
	if _, err := os.Stat(staged); err == nil {
		if err := fileutil.CopyFileVerified(staged, path); err != nil {
			return fmt.Errorf("record publication: %w", err)
		}
	} else if err := os.WriteFile(path, []byte(item.Title+"\n"), 0o644); err != nil {
		return fmt.Errorf("record publication: %w", err)
	}
	p.logger.InfoContext(ctx, "publication recorded",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTarget, target))
	return nil
}

func defaultStageSet(cfg *config.Config, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		Downloader:  newLocalExecutor("download", cfg, logger),
		Processor:   newLocalExecutor("process", cfg, logger),
		Transcriber: newLocalExecutor("transcribe", cfg, logger),
		Publisher: &localPublisher{
			stagingDir: cfg.Paths.StagingDir,
			mediaDir:   cfg.Paths.MediaDir,
			logger:     logging.NewComponentLogger(logger, "stage-publish"),
		},
	}
}

// sourceRegistry resolves sync collaborators for automation jobs. No external
// source integrations ship with the daemon; jobs with a source reference skip
// the sync step and dispatch whatever already sits in the queue.
func sourceRegistry(cfg *config.Config) automation.SourceRegistry {
	return func(sourceID int64) sourcesync.Source { return nil }
}
