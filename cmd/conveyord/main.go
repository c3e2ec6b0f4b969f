package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/automation"
	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/dispatch"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
	"conveyor/internal/sourcesync"
	"conveyor/internal/templates"
	"conveyor/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: "*.log",
	})

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	notifier := notifications.NewService(cfg)
	ledger := quota.NewLedger(store, cfg.Quota)
	dispatcher := dispatch.New(store, ledger, cfg.Dispatch, logger)
	matcher := templates.NewService(store, logger)
	ingestor := sourcesync.NewIngestor(store, ledger, matcher, logger)

	manager := workflow.NewManager(cfg, store, logger)
	manager.ConfigureStages(defaultStageSet(cfg, logger))

	engine := automation.NewEngine(store, ingestor, dispatcher, ledger, notifier, sourceRegistry(cfg), cfg, logger)

	d, err := daemon.New(cfg, store, logger, manager, engine)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("conveyord shutting down")
}
