// Package automation runs recurring jobs: each firing syncs a source,
// rematches the job's template scope, and dispatches eligible items, all
// gated by the owner's automation quota.
package automation

import (
	"context"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/schedule"
	"conveyor/internal/services"
)

// Service owns automation job CRUD. Every create and update validates the
// schedule descriptor against the configured minimum interval and recomputes
// the next run before persisting.
type Service struct {
	store  *queue.Store
	cfg    config.Automation
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a job service.
func NewService(store *queue.Store, cfg config.Automation, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "automation"),
		now:    time.Now,
	}
}

// Create validates the schedule and persists a new job with its first
// computed run time.
func (s *Service) Create(ctx context.Context, job *queue.AutomationJob) (*queue.AutomationJob, error) {
	descriptor, next, err := s.validateSchedule(job.ScheduleJSON)
	if err != nil {
		return nil, err
	}
	job.NextRunAt = &next

	created, err := s.store.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "automation job created",
		logging.Int64(logging.FieldJobID, created.ID),
		logging.String("schedule", descriptor.HumanReadable()),
		logging.String("next_run", next.Format(time.RFC3339)))
	return created, nil
}

// Update revalidates the schedule and recomputes the next run.
func (s *Service) Update(ctx context.Context, job *queue.AutomationJob) error {
	_, next, err := s.validateSchedule(job.ScheduleJSON)
	if err != nil {
		return err
	}
	job.NextRunAt = &next
	return s.store.UpdateJob(ctx, job)
}

// Delete removes a job.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	return s.store.DeleteJob(ctx, id)
}

// Get fetches one job.
func (s *Service) Get(ctx context.Context, id int64) (*queue.AutomationJob, error) {
	return s.store.GetJob(ctx, id)
}

// List returns an owner's jobs.
func (s *Service) List(ctx context.Context, ownerID int64) ([]*queue.AutomationJob, error) {
	return s.store.ListJobs(ctx, ownerID)
}

// Describe renders the job's schedule for display.
func (s *Service) Describe(job *queue.AutomationJob) (string, error) {
	descriptor, err := schedule.Parse([]byte(job.ScheduleJSON), s.cfg.DefaultTimezone)
	if err != nil {
		return "", err
	}
	return descriptor.HumanReadable(), nil
}

func (s *Service) validateSchedule(scheduleJSON string) (schedule.Descriptor, time.Time, error) {
	if scheduleJSON == "" {
		return nil, time.Time{}, services.Wrap(services.ErrScheduleValidation, "automation", "validate",
			"schedule must not be empty", nil)
	}
	descriptor, err := schedule.Parse([]byte(scheduleJSON), s.cfg.DefaultTimezone)
	if err != nil {
		return nil, time.Time{}, err
	}
	now := s.now()
	if err := schedule.ValidateMinInterval(descriptor, s.cfg.MinIntervalHours, now); err != nil {
		return nil, time.Time{}, err
	}
	next, err := schedule.NextFireAfter(descriptor, now)
	if err != nil {
		return nil, time.Time{}, err
	}
	return descriptor, next, nil
}
