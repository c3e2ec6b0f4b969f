package workflow

import (
	"context"
	"errors"

	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
)

func (m *Manager) notifyStageCompleted(ctx context.Context, stageName string, item *queue.Item) {
	if item.Status == queue.StatusUploaded {
		m.publishEvent(ctx, notifications.EventItemCompleted, notifications.Payload{
			"title": item.Title,
		})
		return
	}
	m.publishEvent(ctx, notifications.EventStageCompleted, notifications.Payload{
		"title": item.Title,
		"stage": stageName,
	})
}

func (m *Manager) notifyItemFailed(ctx context.Context, stageName string, item *queue.Item, stageErr error) {
	payload := notifications.Payload{
		"title": item.Title,
		"stage": stageName,
	}
	if stageErr != nil {
		payload["error"] = stageErr.Error()
	}
	m.publishEvent(ctx, notifications.EventItemFailed, payload)
}

func (m *Manager) notifyPublicationCompleted(ctx context.Context, item *queue.Item, target string) {
	m.publishEvent(ctx, notifications.EventPublicationCompleted, notifications.Payload{
		"title":  item.Title,
		"target": target,
	})
}

func (m *Manager) notifyPublicationFailed(ctx context.Context, item *queue.Item, target string, pubErr error) {
	payload := notifications.Payload{
		"title":  item.Title,
		"target": target,
	}
	if pubErr != nil {
		payload["error"] = pubErr.Error()
	}
	m.publishEvent(ctx, notifications.EventPublicationFailed, payload)
}

func (m *Manager) publishEvent(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	logger := m.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification not sent")
			return
		}
		logger.Debug("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}
