package api

import (
	"context"

	"conveyor/internal/config"
	"conveyor/internal/quota"
	"conveyor/internal/workflow"
)

// StatusProvider reports workflow execution state.
type StatusProvider interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// StatusService aggregates workflow status and quota usage for status views.
type StatusService struct {
	provider StatusProvider
	ledger   *quota.Ledger
	limits   config.Quota
}

// NewStatusService constructs a StatusService.
func NewStatusService(provider StatusProvider, ledger *quota.Ledger, limits config.Quota) *StatusService {
	if provider == nil {
		return nil
	}
	return &StatusService{provider: provider, ledger: ledger, limits: limits}
}

// Workflow returns the current workflow status DTO.
func (s *StatusService) Workflow(ctx context.Context) (*WorkflowStatus, error) {
	if s == nil || s.provider == nil {
		return nil, nil
	}
	status := FromStatusSummary(s.provider.Status(ctx))
	return &status, nil
}

// Quota returns an owner's usage against configured limits for the current
// period.
func (s *StatusService) Quota(ctx context.Context, ownerID int64) (*QuotaReport, error) {
	if s == nil || s.ledger == nil {
		return nil, nil
	}
	usage, err := s.ledger.Usage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	report := FromQuotaUsage(usage, s.limits)
	return &report, nil
}
