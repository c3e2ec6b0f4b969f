package templates

import (
	"context"
	"log/slog"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// Service wires the pure matcher to the store: automatic matching on
// ingestion, rematching when templates change, and delete-with-unmap.
type Service struct {
	store  *queue.Store
	logger *slog.Logger
}

// NewService builds a template service.
func NewService(store *queue.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logging.NewComponentLogger(logger, "templates"),
	}
}

// AutoMatch selects the first matching template for an item and applies it.
// Items that match nothing stay unmapped; that is not an error.
func (s *Service) AutoMatch(ctx context.Context, item *queue.Item) (*queue.Template, error) {
	candidates, err := s.store.ListTemplates(ctx, item.OwnerID)
	if err != nil {
		return nil, err
	}
	tpl, err := Select(item, candidates)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, nil
	}
	if err := s.store.MapItemToTemplate(ctx, item.ID, tpl.ID); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "item matched to template",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.Int64("template_id", tpl.ID),
		logging.String("template", tpl.Name))
	return tpl, nil
}

// Create persists a template then rematches the owner's unmapped items
// against it, so a new template immediately picks up its backlog.
func (s *Service) Create(ctx context.Context, tpl *queue.Template) (*queue.Template, int, error) {
	created, err := s.store.CreateTemplate(ctx, tpl)
	if err != nil {
		return nil, 0, err
	}
	matched, err := s.rematchUnmapped(ctx, created)
	if err != nil {
		return created, 0, err
	}
	return created, matched, nil
}

// Delete removes a template. Referencing items are unmapped in the same
// transaction with their status and stage progress untouched.
func (s *Service) Delete(ctx context.Context, templateID int64) (int64, error) {
	unmapped, err := s.store.DeleteTemplate(ctx, templateID)
	if err != nil {
		return 0, err
	}
	if unmapped > 0 {
		s.logger.InfoContext(ctx, "template deleted, items unmapped",
			logging.Int64("template_id", templateID),
			logging.Int64("unmapped", unmapped))
	}
	return unmapped, nil
}

// PreviewFor reports the template an item would match without applying it.
func (s *Service) PreviewFor(ctx context.Context, item *queue.Item) (*queue.Template, error) {
	candidates, err := s.store.ListTemplates(ctx, item.OwnerID)
	if err != nil {
		return nil, err
	}
	return Preview(item, candidates)
}

func (s *Service) rematchUnmapped(ctx context.Context, tpl *queue.Template) (int, error) {
	unmapped, err := s.store.ListUnmapped(ctx, tpl.OwnerID)
	if err != nil {
		return 0, err
	}
	matched := 0
	for _, item := range unmapped {
		ok, err := Matches(item, tpl)
		if err != nil {
			return matched, err
		}
		if !ok {
			continue
		}
		if err := s.store.MapItemToTemplate(ctx, item.ID, tpl.ID); err != nil {
			return matched, err
		}
		matched++
	}
	if matched > 0 {
		s.logger.InfoContext(ctx, "rematched unmapped items",
			logging.Int64("template_id", tpl.ID),
			logging.Int("matched", matched))
	}
	return matched, nil
}
