package api

import (
	"context"

	"conveyor/internal/automation"
	"conveyor/internal/queue"
)

// JobService exposes automation job management workflows as API DTOs.
type JobService struct {
	svc *automation.Service
}

// NewJobService constructs a JobService around the automation service.
func NewJobService(svc *automation.Service) *JobService {
	if svc == nil {
		return nil
	}
	return &JobService{svc: svc}
}

// Create validates a job's schedule, stores it, and returns the summary with
// its first computed fire time.
func (s *JobService) Create(ctx context.Context, job *queue.AutomationJob) (*JobSummary, error) {
	if s == nil || s.svc == nil {
		return nil, nil
	}
	created, err := s.svc.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	summary := FromJob(created)
	return &summary, nil
}

// Update revalidates the schedule and persists the changed job.
func (s *JobService) Update(ctx context.Context, job *queue.AutomationJob) (*JobSummary, error) {
	if s == nil || s.svc == nil {
		return nil, nil
	}
	if err := s.svc.Update(ctx, job); err != nil {
		return nil, err
	}
	summary := FromJob(job)
	return &summary, nil
}

// Delete removes a job and reports whether a row existed.
func (s *JobService) Delete(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.svc == nil {
		return false, nil
	}
	return s.svc.Delete(ctx, id)
}

// Describe returns the job summary with a human-readable schedule rendering.
func (s *JobService) Describe(ctx context.Context, id int64) (*JobSummary, string, error) {
	if s == nil || s.svc == nil {
		return nil, "", nil
	}
	job, err := s.svc.Get(ctx, id)
	if err != nil || job == nil {
		return nil, "", err
	}
	human, err := s.svc.Describe(job)
	if err != nil {
		return nil, "", err
	}
	summary := FromJob(job)
	return &summary, human, nil
}

// List returns an owner's jobs.
func (s *JobService) List(ctx context.Context, ownerID int64) ([]JobSummary, error) {
	if s == nil || s.svc == nil {
		return nil, nil
	}
	jobs, err := s.svc.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	result := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		result = append(result, FromJob(job))
	}
	return result, nil
}
