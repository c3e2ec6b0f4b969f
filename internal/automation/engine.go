package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/dispatch"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
	"conveyor/internal/schedule"
	"conveyor/internal/services"
	"conveyor/internal/sourcesync"
	"conveyor/internal/templates"
)

// SourceRegistry resolves the sync collaborator for a source reference. A
// nil return means the source is unknown and the sync step is skipped.
type SourceRegistry func(sourceID int64) sourcesync.Source

// Engine polls active jobs and fires the ones whose next run has arrived.
// Firing is sequential per engine; jobs are independent enough that one
// engine per daemon suffices.
type Engine struct {
	store      *queue.Store
	ingestor   *sourcesync.Ingestor
	dispatcher *dispatch.Dispatcher
	ledger     *quota.Ledger
	notifier   notifications.Service
	sources    SourceRegistry
	cfg        *config.Config
	logger     *slog.Logger
	now        func() time.Time

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine builds the firing engine.
func NewEngine(
	store *queue.Store,
	ingestor *sourcesync.Ingestor,
	dispatcher *dispatch.Dispatcher,
	ledger *quota.Ledger,
	notifier notifications.Service,
	sources SourceRegistry,
	cfg *config.Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:        store,
		ingestor:     ingestor,
		dispatcher:   dispatcher,
		ledger:       ledger,
		notifier:     notifier,
		sources:      sources,
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "automation-engine"),
		now:          time.Now,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
	}
}

// Start begins polling for due jobs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("automation engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	go e.run(runCtx)
	return nil
}

// Stop terminates polling and waits for an in-flight firing to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunDue(ctx)
		}
	}
}

// RunDue fires every active job whose next run time has passed. It is exposed
// so callers can trigger a sweep outside the polling loop.
func (e *Engine) RunDue(ctx context.Context) {
	jobs, err := e.store.ActiveJobs(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to list active jobs", logging.Error(err))
		return
	}
	now := e.now()
	for _, job := range jobs {
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		if err := e.Fire(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.logger.ErrorContext(ctx, "automation job firing failed",
				logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
}

// Fire executes one job run: reserve the automation quota, sync the job's
// source, rematch within the job's template scope, dispatch eligible items,
// and atomically record the run with the recomputed next fire time. A run
// that finds nothing to dispatch still counts as a successful run.
func (e *Engine) Fire(ctx context.Context, job *queue.AutomationJob) error {
	logger := e.logger.With(logging.Int64(logging.FieldJobID, job.ID), logging.String("job", job.Name))
	ranAt := e.now()

	descriptor, err := schedule.Parse([]byte(job.ScheduleJSON), e.cfg.Automation.DefaultTimezone)
	if err != nil {
		return err
	}
	next, err := schedule.NextFireAfter(descriptor, ranAt)
	if err != nil {
		return err
	}

	if err := e.ledger.ReserveAutomationRun(ctx, job.OwnerID); err != nil {
		if errors.Is(err, services.ErrQuotaExceeded) {
			// The run does not happen and does not count; the schedule
			// still advances so the job stops hot-looping until the next
			// period frees the quota.
			logger.WarnContext(ctx, "automation quota reached, run skipped",
				logging.String("detail", services.Details(err).Message))
			job.NextRunAt = &next
			return e.store.UpdateJob(ctx, job)
		}
		return err
	}

	if e.ingestor != nil && e.sources != nil && job.SourceID > 0 {
		if src := e.sources(job.SourceID); src != nil {
			if _, err := e.ingestor.Sync(ctx, job.OwnerID, job.SourceID, src, job.SyncParams); err != nil {
				logger.WarnContext(ctx, "source sync failed, continuing with existing items", logging.Error(err))
			}
		}
	}

	matched, err := e.rematchScope(ctx, job)
	if err != nil {
		logger.WarnContext(ctx, "scoped rematch failed", logging.Error(err))
	}

	manifest, err := e.dispatcher.DispatchFilter(ctx, e.jobFilter(job), dispatch.OpProcess)
	if err != nil {
		return fmt.Errorf("dispatch for job %d: %w", job.ID, err)
	}

	if err := e.store.RecordJobRun(ctx, job.ID, ranAt, &next); err != nil {
		return err
	}

	logger.InfoContext(ctx, "automation job fired",
		logging.Int("matched", matched),
		logging.Int("queued", manifest.QueuedCount),
		logging.Int("skipped", manifest.SkippedCount),
		logging.Int("errored", manifest.ErrorCount),
		logging.String("next_run", next.Format(time.RFC3339)))

	if e.notifier != nil {
		payload := notifications.Payload{
			"job":    job.Name,
			"queued": strconv.Itoa(manifest.QueuedCount),
		}
		if err := e.notifier.Publish(ctx, notifications.EventAutomationFired, payload); err != nil {
			logger.DebugContext(ctx, "automation notification failed", logging.Error(err))
		}
	}
	return nil
}

// rematchScope pairs the owner's unmapped items against the job's template
// scope, first match wins in creation order. An empty scope means every
// template the owner has.
func (e *Engine) rematchScope(ctx context.Context, job *queue.AutomationJob) (int, error) {
	candidates, err := e.scopedTemplates(ctx, job)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	items, err := e.store.ListUnmapped(ctx, job.OwnerID)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, item := range items {
		tpl, err := templates.Select(item, candidates)
		if err != nil {
			return matched, err
		}
		if tpl == nil {
			continue
		}
		if err := e.store.MapItemToTemplate(ctx, item.ID, tpl.ID); err != nil {
			return matched, err
		}
		matched++
	}
	return matched, nil
}

func (e *Engine) scopedTemplates(ctx context.Context, job *queue.AutomationJob) ([]*queue.Template, error) {
	all, err := e.store.ListTemplates(ctx, job.OwnerID)
	if err != nil {
		return nil, err
	}
	if len(job.TemplateIDs) == 0 {
		return all, nil
	}
	scope := make(map[int64]struct{}, len(job.TemplateIDs))
	for _, id := range job.TemplateIDs {
		scope[id] = struct{}{}
	}
	scoped := make([]*queue.Template, 0, len(job.TemplateIDs))
	for _, tpl := range all {
		if _, ok := scope[tpl.ID]; ok {
			scoped = append(scoped, tpl)
		}
	}
	return scoped, nil
}

// jobFilter builds the dispatch filter for a firing. An empty status filter
// defaults to freshly ingested items.
func (e *Engine) jobFilter(job *queue.AutomationJob) queue.ItemFilter {
	statuses := job.StatusFilter
	if len(statuses) == 0 {
		statuses = []string{string(queue.StatusInitialized)}
	}
	filter := queue.ItemFilter{
		OwnerID: job.OwnerID,
		Status:  statuses,
	}
	if job.SourceID > 0 {
		sourceID := job.SourceID
		filter.SourceID = &sourceID
	}
	return filter
}
