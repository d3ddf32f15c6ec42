package store

import (
	"context"

	"github.com/pestroute/layoutsync/internal/model"
)

// RegionStore is versioned, tenant-isolated region storage. Updates and
// deletes succeed only when the stored version equals expectedVersion;
// otherwise they fail with *errors.VersionConflictError carrying the
// current state. Writes that would overlap another region in the same
// layout fail with a validation error.
type RegionStore interface {
	GetRegion(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error)
	ListRegions(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error)
	CreateRegion(ctx context.Context, region *model.Region) (*model.Region, error)
	UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*model.Region, error)
	// DeleteRegion skips the version check when expectedVersion is 0
	DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error
	ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error)
}

// LayoutStore stores layouts. Deleting a layout deletes its regions.
type LayoutStore interface {
	GetLayout(ctx context.Context, tenantID, layoutID string) (*model.Layout, error)
	ListLayouts(ctx context.Context, tenantID string) ([]*model.Layout, error)
	CreateLayout(ctx context.Context, layout *model.Layout) (*model.Layout, error)
	UpdateLayout(ctx context.Context, tenantID, layoutID string, patch *model.LayoutPatch, expectedVersion int64) (*model.Layout, error)
	DeleteLayout(ctx context.Context, tenantID, layoutID string, expectedVersion int64) error
}

// TemplateStore stores tenant templates
type TemplateStore interface {
	GetTemplate(ctx context.Context, tenantID, templateID string) (*model.Template, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*model.Template, error)
	CreateTemplate(ctx context.Context, tmpl *model.Template) (*model.Template, error)
	UpdateTemplate(ctx context.Context, tenantID, templateID string, patch *model.TemplatePatch, expectedVersion int64) (*model.Template, error)
	DeleteTemplate(ctx context.Context, tenantID, templateID string, expectedVersion int64) error
}

// Store is the full storage tier
type Store interface {
	RegionStore
	LayoutStore
	TemplateStore

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// QueueStore persists the offline queue as one ordered list
type QueueStore interface {
	Load(ctx context.Context) ([]*model.QueuedOperation, error)
	Save(ctx context.Context, ops []*model.QueuedOperation) error
}
