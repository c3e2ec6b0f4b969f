package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/mediaconfig"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
)

// Manager coordinates queue processing using registered stage executors.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	ledger       *quota.Ledger
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service
	presets      map[string]map[string]any

	heartbeat *HeartbeatMonitor

	lanes []*laneState

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastItem *queue.Item
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPlatformPresets seeds the configuration resolver with per-platform
// default settings. Preset keys become reserved bucket names inside template
// metadata.
func WithPlatformPresets(presets map[string]map[string]any) ManagerOption {
	return func(m *Manager) {
		m.presets = presets
	}
}

// NewManager constructs a workflow manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, notifications.NewService(cfg), opts...)
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        store,
		ledger:       quota.NewLedger(store, cfg.Quota),
		logger:       logger,
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// resolver builds a fresh configuration resolver per resolution so the known
// platform set can include the item's own targets without sharing mutable
// state across lanes.
func (m *Manager) resolver(targets []string) *mediaconfig.Resolver {
	r := mediaconfig.NewResolver(m.presets)
	for _, target := range targets {
		if target != "" {
			r.RegisterPlatform(target)
		}
	}
	return r
}
