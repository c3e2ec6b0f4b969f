package api

import (
	"context"

	"conveyor/internal/queue"
	"conveyor/internal/templates"
)

// TemplateStore abstracts the persistence calls template workflows need.
type TemplateStore interface {
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
	ListTemplates(ctx context.Context, ownerID int64) ([]*queue.Template, error)
}

// TemplateService exposes template CRUD and preview workflows as API DTOs.
type TemplateService struct {
	svc   *templates.Service
	store TemplateStore
}

// NewTemplateService constructs a TemplateService around the matching service.
func NewTemplateService(svc *templates.Service, store TemplateStore) *TemplateService {
	if svc == nil || store == nil {
		return nil
	}
	return &TemplateService{svc: svc, store: store}
}

// TemplateCreateResult reports a created template and how many existing
// unmapped items it picked up.
type TemplateCreateResult struct {
	Template  TemplateSummary `json:"template"`
	Rematched int             `json:"rematched"`
}

// Create persists a template and rematches existing unmapped items against it.
func (s *TemplateService) Create(ctx context.Context, tpl *queue.Template) (*TemplateCreateResult, error) {
	if s == nil || s.svc == nil {
		return nil, nil
	}
	created, rematched, err := s.svc.Create(ctx, tpl)
	if err != nil {
		return nil, err
	}
	return &TemplateCreateResult{Template: FromTemplate(created), Rematched: rematched}, nil
}

// TemplateDeleteResult reports a deletion and how many items lost their mapping.
type TemplateDeleteResult struct {
	Unmapped int64 `json:"unmapped"`
}

// Delete removes a template, unmapping any items that referenced it.
func (s *TemplateService) Delete(ctx context.Context, id int64) (*TemplateDeleteResult, error) {
	if s == nil || s.svc == nil {
		return nil, nil
	}
	unmapped, err := s.svc.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TemplateDeleteResult{Unmapped: unmapped}, nil
}

// List returns an owner's templates in creation order.
func (s *TemplateService) List(ctx context.Context, ownerID int64) ([]TemplateSummary, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	tpls, err := s.store.ListTemplates(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	result := make([]TemplateSummary, 0, len(tpls))
	for _, tpl := range tpls {
		result = append(result, FromTemplate(tpl))
	}
	return result, nil
}

// Preview reports which template an item would map to without persisting
// the mapping.
func (s *TemplateService) Preview(ctx context.Context, itemID int64) (*TemplateSummary, error) {
	if s == nil || s.svc == nil || s.store == nil {
		return nil, nil
	}
	item, err := s.store.GetByID(ctx, itemID)
	if err != nil || item == nil {
		return nil, err
	}
	tpl, err := s.svc.PreviewFor(ctx, item)
	if err != nil || tpl == nil {
		return nil, err
	}
	summary := FromTemplate(tpl)
	return &summary, nil
}
