package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/store"
	"github.com/pestroute/layoutsync/internal/template"
	"github.com/pestroute/layoutsync/internal/validation"
)

// LayoutService is the storage tier behind layout-api. It validates every
// write with the same validator the agent runs, serves the built-in
// template catalog read-only next to tenant templates, and leaves version
// checks and the overlap invariant to the store.
type LayoutService struct {
	store     store.Store
	catalog   *template.Catalog
	validator *validation.Validator
	logger    *zap.Logger
}

// NewLayoutService creates a new layout service
func NewLayoutService(
	s store.Store,
	catalog *template.Catalog,
	validator *validation.Validator,
	logger *zap.Logger,
) *LayoutService {
	return &LayoutService{
		store:     s,
		catalog:   catalog,
		validator: validator,
		logger:    logger,
	}
}

// Ping checks the backing store
func (s *LayoutService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListLayouts lists the tenant's layouts
func (s *LayoutService) ListLayouts(ctx context.Context, tenantID string) ([]*model.Layout, error) {
	return s.store.ListLayouts(ctx, tenantID)
}

// GetLayout retrieves a layout
func (s *LayoutService) GetLayout(ctx context.Context, tenantID, layoutID string) (*model.Layout, error) {
	return s.store.GetLayout(ctx, tenantID, layoutID)
}

// CreateLayout creates an empty layout
func (s *LayoutService) CreateLayout(ctx context.Context, layout *model.Layout) (*model.Layout, error) {
	if err := s.validator.ValidateLayout(layout); err != nil {
		return nil, err
	}
	created, err := s.store.CreateLayout(ctx, layout)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created layout",
		zap.String("tenant_id", created.TenantID),
		zap.String("layout_id", created.ID))
	return created, nil
}

// UpdateLayout patches a layout at expectedVersion
func (s *LayoutService) UpdateLayout(ctx context.Context, tenantID, layoutID string, patch *model.LayoutPatch, expectedVersion int64) (*model.Layout, error) {
	if patch.IsEmpty() {
		return nil, emptyUpdate()
	}
	current, err := s.store.GetLayout(ctx, tenantID, layoutID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateLayout(patch.Apply(current)); err != nil {
		return nil, err
	}
	return s.store.UpdateLayout(ctx, tenantID, layoutID, patch, expectedVersion)
}

// DeleteLayout deletes a layout and its regions
func (s *LayoutService) DeleteLayout(ctx context.Context, tenantID, layoutID string, expectedVersion int64) error {
	if err := s.store.DeleteLayout(ctx, tenantID, layoutID, expectedVersion); err != nil {
		return err
	}
	s.logger.Info("Deleted layout",
		zap.String("tenant_id", tenantID),
		zap.String("layout_id", layoutID))
	return nil
}

// ListRegions lists a layout's regions in display order
func (s *LayoutService) ListRegions(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error) {
	return s.store.ListRegions(ctx, tenantID, layoutID)
}

// GetRegion retrieves a region
func (s *LayoutService) GetRegion(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error) {
	return s.store.GetRegion(ctx, tenantID, layoutID, regionID)
}

// CreateRegion validates and stores a new region
func (s *LayoutService) CreateRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	if err := s.validator.ValidateCreate(region); err != nil {
		return nil, err
	}
	return s.store.CreateRegion(ctx, region)
}

// UpdateRegion validates the patch against the stored region and applies
// it at expectedVersion. A stale expectedVersion is reported as a conflict
// before validation, since the patch was built against other state.
func (s *LayoutService) UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*model.Region, error) {
	if patch.IsEmpty() {
		return nil, emptyUpdate()
	}
	current, err := s.store.GetRegion(ctx, tenantID, layoutID, regionID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, errors.NewVersionConflict("region", regionID, expectedVersion, current.Version, current)
	}
	if err := s.validator.ValidateUpdate(current, patch); err != nil {
		return nil, err
	}
	return s.store.UpdateRegion(ctx, tenantID, layoutID, regionID, patch, expectedVersion)
}

// DeleteRegion removes a region
func (s *LayoutService) DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error {
	return s.store.DeleteRegion(ctx, tenantID, layoutID, regionID, expectedVersion)
}

// ReorderRegions updates display positions in one batch
func (s *LayoutService) ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error) {
	if len(positions) == 0 {
		return nil, emptyUpdate()
	}
	return s.store.ReorderRegions(ctx, tenantID, layoutID, positions)
}

// ListTemplates returns the built-in catalog followed by the tenant's own
// templates
func (s *LayoutService) ListTemplates(ctx context.Context, tenantID string) ([]*model.Template, error) {
	own, err := s.store.ListTemplates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return append(s.catalog.List(), own...), nil
}

// GetTemplate looks a template up in the catalog, then in tenant storage
func (s *LayoutService) GetTemplate(ctx context.Context, tenantID, templateID string) (*model.Template, error) {
	if t, ok := s.catalog.Get(templateID); ok {
		return t, nil
	}
	return s.store.GetTemplate(ctx, tenantID, templateID)
}

// CreateTemplate stores a tenant template
func (s *LayoutService) CreateTemplate(ctx context.Context, tmpl *model.Template) (*model.Template, error) {
	if tmpl.ID != "" && s.catalog.Contains(tmpl.ID) {
		return nil, fmt.Errorf("template %s: %w", tmpl.ID, errors.ErrAlreadyExists)
	}
	tmpl.BuiltIn = false
	if err := s.validator.ValidateTemplate(tmpl); err != nil {
		return nil, err
	}
	return s.store.CreateTemplate(ctx, tmpl)
}

// UpdateTemplate patches a tenant template. Built-in templates are
// read-only.
func (s *LayoutService) UpdateTemplate(ctx context.Context, tenantID, templateID string, patch *model.TemplatePatch, expectedVersion int64) (*model.Template, error) {
	if s.catalog.Contains(templateID) {
		return nil, fmt.Errorf("template %s: %w", templateID, errors.ErrReadOnly)
	}
	if patch.IsEmpty() {
		return nil, emptyUpdate()
	}
	current, err := s.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateTemplate(patch.Apply(current)); err != nil {
		return nil, err
	}
	return s.store.UpdateTemplate(ctx, tenantID, templateID, patch, expectedVersion)
}

// DeleteTemplate deletes a tenant template
func (s *LayoutService) DeleteTemplate(ctx context.Context, tenantID, templateID string, expectedVersion int64) error {
	if s.catalog.Contains(templateID) {
		return fmt.Errorf("template %s: %w", templateID, errors.ErrReadOnly)
	}
	return s.store.DeleteTemplate(ctx, tenantID, templateID, expectedVersion)
}

// InstantiateTemplate creates a new layout seeded with the template's
// placements. The layout is removed again if any placement fails.
func (s *LayoutService) InstantiateTemplate(ctx context.Context, tenantID, templateID, name string) (*model.LayoutWithRegions, error) {
	tmpl, err := s.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = tmpl.Name
	}

	layout, err := s.CreateLayout(ctx, &model.Layout{
		TenantID:    tenantID,
		Name:        name,
		Description: tmpl.Description,
	})
	if err != nil {
		return nil, err
	}

	regions := make([]*model.Region, 0, len(tmpl.Regions))
	for i, tr := range tmpl.Regions {
		r, err := s.CreateRegion(ctx, tr.ToRegion(tenantID, layout.ID, i))
		if err != nil {
			if delErr := s.store.DeleteLayout(ctx, tenantID, layout.ID, 0); delErr != nil {
				s.logger.Error("Failed to remove partially instantiated layout",
					zap.String("layout_id", layout.ID),
					zap.Error(delErr))
			}
			return nil, fmt.Errorf("failed to place template region %d: %w", i, err)
		}
		regions = append(regions, r)
	}

	s.logger.Info("Instantiated template",
		zap.String("tenant_id", tenantID),
		zap.String("template_id", templateID),
		zap.String("layout_id", layout.ID),
		zap.Int("regions", len(regions)))
	return &model.LayoutWithRegions{Layout: layout, Regions: regions}, nil
}

func emptyUpdate() error {
	return errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeEmptyUpdate, "", "update contains no changes")}
}
