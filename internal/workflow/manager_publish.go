package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// publishItem fans the item's publications out over the configured worker
// pool. Each target advances through its own publication row; one target's
// failure never blocks or rolls back another's upload. The item completes
// only when every target has uploaded, otherwise the stage fails so a retry
// resumes publication and re-attempts only the failed targets.
func (m *Manager) publishItem(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item, targets []string) error {
	if len(targets) == 0 {
		// Nothing to publish: the item completes immediately.
		return m.store.Transition(ctx, item.ID, stg.processingStatus, stg.doneStatus)
	}

	if err := m.store.EnsureTargets(ctx, item.ID, targets); err != nil {
		return err
	}
	pubs, err := m.store.TargetsForItem(ctx, item.ID)
	if err != nil {
		return err
	}

	pending := make([]*queue.TargetPublication, 0, len(pubs))
	for _, pub := range pubs {
		if pub.Status == queue.TargetUploaded {
			continue
		}
		pending = append(pending, pub)
	}

	if len(pending) > 0 {
		execErr := m.executeWithHeartbeat(ctx, item.ID, func(ctx context.Context) error {
			return m.publishTargets(ctx, stageLogger, stg, item, pending)
		})
		if execErr != nil {
			return execErr
		}
	}

	done, err := m.store.AllTargetsUploaded(ctx, item.ID)
	if err != nil {
		return err
	}
	if !done {
		failed := 0
		if current, err := m.store.TargetsForItem(ctx, item.ID); err == nil {
			for _, pub := range current {
				if pub.Status == queue.TargetFailed {
					failed++
				}
			}
		}
		return fmt.Errorf("%d of %d targets failed to publish", failed, len(targets))
	}
	return m.store.Transition(ctx, item.ID, stg.processingStatus, stg.doneStatus)
}

func (m *Manager) publishTargets(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item, pending []*queue.TargetPublication) error {
	workers := m.cfg.Workflow.PublishWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	jobs := make(chan *queue.TargetPublication)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for pub := range jobs {
				m.publishOneTarget(ctx, stageLogger, stg, item, pub)
			}
		}()
	}

	for _, pub := range pending {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- pub:
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

// publishOneTarget drives a single publication row through its FSM. Outcomes
// land on the row; the caller inspects the rows afterwards to decide the
// item-level result.
func (m *Manager) publishOneTarget(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, item *queue.Item, pub *queue.TargetPublication) {
	logger := stageLogger.With(logging.String(logging.FieldTarget, pub.Target))

	// The item-level claim already guarantees exclusive ownership of the
	// rows, so a row left at uploading by an interrupted worker is simply
	// resumed rather than re-claimed.
	if pub.Status != queue.TargetUploading {
		if err := m.store.TransitionTarget(ctx, item.ID, pub.Target, pub.Status, queue.TargetUploading, ""); err != nil {
			logger.Warn("failed to claim publication", logging.Error(err))
			return
		}
	}

	effective, _, err := m.effectiveConfig(ctx, item, pub.Target)
	if err == nil {
		err = stg.publisher.Publish(ctx, item, pub.Target, effective)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Roll the claim back so the reclaim path re-attempts after
			// restart instead of recording a spurious failure.
			return
		}
		if markErr := m.store.TransitionTarget(ctx, item.ID, pub.Target, queue.TargetUploading, queue.TargetFailed, err.Error()); markErr != nil {
			logger.Error("failed to record publication failure", logging.Error(markErr))
		}
		logger.Warn("publication failed", logging.Error(err))
		m.notifyPublicationFailed(ctx, item, pub.Target, err)
		return
	}

	if err := m.store.TransitionTarget(ctx, item.ID, pub.Target, queue.TargetUploading, queue.TargetUploaded, ""); err != nil {
		logger.Error("failed to record publication success", logging.Error(err))
		return
	}
	logger.Info("publication completed", logging.String(logging.FieldEventType, "publication_complete"))
	m.notifyPublicationCompleted(ctx, item, pub.Target)
}
