package api

import (
	"context"

	"conveyor/internal/dispatch"
	"conveyor/internal/queue"
)

// DispatchService wraps bulk dispatch so callers deal only in manifests.
type DispatchService struct {
	dispatcher *dispatch.Dispatcher
}

// NewDispatchService constructs a DispatchService around the dispatcher.
func NewDispatchService(dispatcher *dispatch.Dispatcher) *DispatchService {
	if dispatcher == nil {
		return nil
	}
	return &DispatchService{dispatcher: dispatcher}
}

// Dispatch applies an operation to explicit item IDs.
func (s *DispatchService) Dispatch(ctx context.Context, ids []int64, op dispatch.Operation) (*dispatch.Manifest, error) {
	if s == nil || s.dispatcher == nil {
		return nil, nil
	}
	return s.dispatcher.Dispatch(ctx, ids, op)
}

// DispatchFilter resolves a filter and applies an operation to the matches.
func (s *DispatchService) DispatchFilter(ctx context.Context, filter queue.ItemFilter, op dispatch.Operation) (*dispatch.Manifest, error) {
	if s == nil || s.dispatcher == nil {
		return nil, nil
	}
	return s.dispatcher.DispatchFilter(ctx, filter, op)
}

// DryRun previews a filtered dispatch without consuming quota or mutating items.
func (s *DispatchService) DryRun(ctx context.Context, filter queue.ItemFilter, op dispatch.Operation) (*dispatch.Manifest, error) {
	if s == nil || s.dispatcher == nil {
		return nil, nil
	}
	return s.dispatcher.DryRun(ctx, filter, op)
}
