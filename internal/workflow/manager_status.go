package workflow

import (
	"context"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastItem    *queue.Item
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastItem := m.lastItem
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil && m.logger != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health)
	for _, h := range m.stageHealth() {
		health[h.Name] = h
	}

	summary := StatusSummary{Running: running, QueueStats: stats, StageHealth: health}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastItem != nil {
		copied := *lastItem
		summary.LastItem = &copied
	}
	return summary
}

// stageHealth gathers readiness from executors that implement the optional
// HealthChecker interface. Executors without one are reported ready.
func (m *Manager) stageHealth() []stage.Health {
	m.mu.RLock()
	lanes := m.lanes
	m.mu.RUnlock()

	var out []stage.Health
	for _, lane := range lanes {
		for _, stg := range lane.stages {
			var candidate any = stg.executor
			if stg.isPublish() {
				candidate = stg.publisher
			}
			if checker, ok := candidate.(stage.HealthChecker); ok {
				out = append(out, checker.HealthCheck())
				continue
			}
			out = append(out, stage.Healthy(stg.name))
		}
	}
	return out
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		copied := *item
		m.lastItem = &copied
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}
