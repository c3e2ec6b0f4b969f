package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

func (m *Manager) processItem(ctx context.Context, lane *laneState, laneLogger *slog.Logger, stg pipelineStage, item *queue.Item) error {
	requestID := uuid.NewString()
	stageCtx := withStageContext(ctx, lane, stg.name, item, requestID)
	stageLogger := logging.WithContext(stageCtx, laneLogger)

	if err := m.claimItem(stageCtx, stg, item); err != nil {
		if errors.Is(err, services.ErrConflict) {
			// Another worker won the claim; move on.
			stageLogger.Debug("item claimed elsewhere", logging.Error(err))
			return nil
		}
		stageLogger.Error("failed to claim item", logging.Error(err))
		m.setLastError(err)
		return err
	}

	// Reload so the in-memory copy carries the claim's heartbeat stamp;
	// Update would otherwise write a stale heartbeat back.
	claimed, err := m.store.GetByID(stageCtx, item.ID)
	if err != nil {
		m.setLastError(err)
		return err
	}
	if claimed == nil {
		return nil
	}
	m.setLastItem(claimed)

	return m.executeStage(stageCtx, stageLogger, stg, claimed)
}

// claimItem converts the discovered item into an exclusive claim. Resting
// items advance into the in-flight status; re-enqueued items (retry or
// reclaim) are already in-flight and are claimed by stamping the heartbeat.
func (m *Manager) claimItem(ctx context.Context, stg pipelineStage, item *queue.Item) error {
	if item.Status == stg.processingStatus {
		return m.store.ClaimReenqueued(ctx, item.ID, stg.processingStatus)
	}
	return m.store.Transition(ctx, item.ID, item.Status, stg.processingStatus)
}

func (m *Manager) executeStage(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item) error {
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
		logging.String("title", strings.TrimSpace(item.Title)),
	)

	effective, targets, err := m.effectiveConfig(ctx, item, "")
	if err != nil {
		m.handleStageFailure(ctx, stg, item, err)
		return err
	}

	var execErr error
	if stg.isPublish() {
		execErr = m.publishItem(ctx, stageLogger, stg, item, targets)
	} else {
		execErr = m.runExecutor(ctx, stageLogger, stg, item, effective)
	}
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			stageLogger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(ctx, stg, item, execErr)
		return execErr
	}

	updated, err := m.store.GetByID(ctx, item.ID)
	if err != nil {
		m.setLastError(err)
		return err
	}
	if updated != nil {
		m.setLastItem(updated)
		item = updated
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(item.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.notifyStageCompleted(ctx, stg.name, item)
	return nil
}

// runExecutor drives a non-publish stage: run the executor under a heartbeat,
// account the produced artifact against the storage quota, and land the done
// transition.
func (m *Manager) runExecutor(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item, effective map[string]any) error {
	var artifact stage.Artifact
	execErr := m.executeWithHeartbeat(ctx, item.ID, func(ctx context.Context) error {
		var err error
		artifact, err = stg.executor.Run(ctx, item, effective)
		return err
	})
	if execErr != nil {
		return execErr
	}

	bytes := artifact.Bytes
	if bytes > 0 {
		if err := m.ledger.ReserveStorage(ctx, item.OwnerID, bytes); err != nil {
			return err
		}
		item.StorageBytes += bytes
		if err := m.store.Update(ctx, item); err != nil {
			return fmt.Errorf("persist artifact size: %w", err)
		}
		stageLogger.Debug("artifact recorded", logging.Int64("bytes", bytes))
	}

	return m.store.Transition(ctx, item.ID, stg.processingStatus, stg.doneStatus)
}

// executeWithHeartbeat runs fn while a heartbeat goroutine keeps the item's
// claim fresh. The heartbeat stops before the stage outcome is recorded.
func (m *Manager) executeWithHeartbeat(ctx context.Context, itemID int64, fn func(context.Context) error) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, itemID)

	execErr := fn(ctx)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// effectiveConfig resolves the item's layered configuration for a platform
// (empty for non-publish stages) and reports the item's publication targets.
func (m *Manager) effectiveConfig(ctx context.Context, item *queue.Item, platform string) (map[string]any, []string, error) {
	var metadata map[string]any
	var targets []string
	if item.TemplateID != nil {
		tpl, err := m.store.GetTemplate(ctx, *item.TemplateID)
		if err != nil {
			return nil, nil, err
		}
		if tpl != nil {
			metadata = tpl.Metadata
			targets = tpl.OutputTargets
		}
	}

	override, err := parseOverride(item.ConfigOverride)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "workflow", "resolve-config",
			fmt.Sprintf("item %d has malformed config override", item.ID), err)
	}
	if raw, ok := override["output_targets"]; ok {
		if custom := stringSlice(raw); custom != nil {
			targets = custom
		}
	}

	effective := m.resolver(targets).Resolve(metadata, override, platform)
	return effective, targets, nil
}

func parseOverride(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var override map[string]any
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return nil, err
	}
	return override, nil
}

func stringSlice(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, element := range items {
		if s, ok := element.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
