package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/validation"
)

// MemoryStore is an in-process Store. Every write holds the store lock for
// its whole check-and-increment, so version checks and the overlap
// invariant are atomic per write.
type MemoryStore struct {
	mu        sync.RWMutex
	layouts   map[string]*model.Layout
	regions   map[string]map[string]*model.Region // layout key -> region id
	templates map[string]*model.Template
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(clock clockwork.Clock, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		layouts:   make(map[string]*model.Layout),
		regions:   make(map[string]map[string]*model.Region),
		templates: make(map[string]*model.Template),
		clock:     clock,
		logger:    logger,
	}
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() {}

// GetLayout retrieves a layout
func (s *MemoryStore) GetLayout(ctx context.Context, tenantID, layoutID string) (*model.Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layouts[key(tenantID, layoutID)]
	if !ok {
		return nil, layoutNotFound(layoutID)
	}
	c := *l
	return &c, nil
}

// ListLayouts lists a tenant's layouts ordered by name
func (s *MemoryStore) ListLayouts(ctx context.Context, tenantID string) ([]*model.Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Layout, 0)
	for _, l := range s.layouts {
		if l.TenantID == tenantID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateLayout stores a new layout at version 1
func (s *MemoryStore) CreateLayout(ctx context.Context, layout *model.Layout) (*model.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := *layout
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	k := key(l.TenantID, l.ID)
	if _, exists := s.layouts[k]; exists {
		return nil, fmt.Errorf("layout %s: %w", l.ID, errors.ErrAlreadyExists)
	}
	now := s.clock.Now()
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	s.layouts[k] = &l
	s.regions[k] = make(map[string]*model.Region)

	out := l
	return &out, nil
}

// UpdateLayout applies a patch under optimistic locking
func (s *MemoryStore) UpdateLayout(ctx context.Context, tenantID, layoutID string, patch *model.LayoutPatch, expectedVersion int64) (*model.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, layoutID)
	current, ok := s.layouts[k]
	if !ok {
		return nil, layoutNotFound(layoutID)
	}
	if current.Version != expectedVersion {
		c := *current
		return nil, errors.NewVersionConflict("layout", layoutID, expectedVersion, current.Version, &c)
	}

	updated := patch.Apply(current)
	updated.Version = current.Version + 1
	updated.UpdatedAt = s.clock.Now()
	s.layouts[k] = updated

	out := *updated
	return &out, nil
}

// DeleteLayout removes a layout and all of its regions
func (s *MemoryStore) DeleteLayout(ctx context.Context, tenantID, layoutID string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, layoutID)
	current, ok := s.layouts[k]
	if !ok {
		return layoutNotFound(layoutID)
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		c := *current
		return errors.NewVersionConflict("layout", layoutID, expectedVersion, current.Version, &c)
	}

	removed := len(s.regions[k])
	delete(s.layouts, k)
	delete(s.regions, k)

	s.logger.Debug("Deleted layout",
		zap.String("tenant_id", tenantID),
		zap.String("layout_id", layoutID),
		zap.Int("regions_removed", removed))
	return nil
}

// GetRegion retrieves a region
func (s *MemoryStore) GetRegion(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regions, ok := s.regions[key(tenantID, layoutID)]
	if !ok {
		return nil, layoutNotFound(layoutID)
	}
	r, ok := regions[regionID]
	if !ok {
		return nil, regionNotFound(regionID)
	}
	return r.Clone(), nil
}

// ListRegions lists the regions of a layout in display order
func (s *MemoryStore) ListRegions(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regions, ok := s.regions[key(tenantID, layoutID)]
	if !ok {
		return nil, layoutNotFound(layoutID)
	}
	out := make([]*model.Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Clone())
	}
	SortRegions(out)
	return out, nil
}

// CreateRegion stores a new region at version 1
func (s *MemoryStore) CreateRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, ok := s.regions[key(region.TenantID, region.LayoutID)]
	if !ok {
		return nil, layoutNotFound(region.LayoutID)
	}

	r := region.Clone()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, exists := regions[r.ID]; exists {
		return nil, fmt.Errorf("region %s: %w", r.ID, errors.ErrAlreadyExists)
	}
	if err := CheckOverlap(r, values(regions), ""); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	regions[r.ID] = r

	return r.Clone(), nil
}

// UpdateRegion applies a patch if the stored version equals expectedVersion
func (s *MemoryStore) UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*model.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, ok := s.regions[key(tenantID, layoutID)]
	if !ok {
		return nil, layoutNotFound(layoutID)
	}
	current, ok := regions[regionID]
	if !ok {
		return nil, regionNotFound(regionID)
	}
	if current.Version != expectedVersion {
		return nil, errors.NewVersionConflict("region", regionID, expectedVersion, current.Version, current.Clone())
	}

	updated := patch.Apply(current)
	if patch.TouchesGeometry() {
		if err := CheckOverlap(updated, values(regions), regionID); err != nil {
			return nil, err
		}
	}
	updated.Version = current.Version + 1
	updated.UpdatedAt = s.clock.Now()
	regions[regionID] = updated

	return updated.Clone(), nil
}

// DeleteRegion removes a region
func (s *MemoryStore) DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, ok := s.regions[key(tenantID, layoutID)]
	if !ok {
		return layoutNotFound(layoutID)
	}
	current, ok := regions[regionID]
	if !ok {
		return regionNotFound(regionID)
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return errors.NewVersionConflict("region", regionID, expectedVersion, current.Version, current.Clone())
	}
	delete(regions, regionID)
	return nil
}

// ReorderRegions sets display positions. Every listed region must belong
// to the layout; each one's version is incremented.
func (s *MemoryStore) ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, ok := s.regions[key(tenantID, layoutID)]
	if !ok {
		return nil, layoutNotFound(layoutID)
	}
	for _, p := range positions {
		if _, ok := regions[p.RegionID]; !ok {
			return nil, regionNotFound(p.RegionID)
		}
	}

	now := s.clock.Now()
	for _, p := range positions {
		r := regions[p.RegionID]
		if r.Position == p.Position {
			continue
		}
		r.Position = p.Position
		r.Version++
		r.UpdatedAt = now
	}

	out := make([]*model.Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Clone())
	}
	SortRegions(out)
	return out, nil
}

// GetTemplate retrieves a tenant template
func (s *MemoryStore) GetTemplate(ctx context.Context, tenantID, templateID string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[key(tenantID, templateID)]
	if !ok {
		return nil, templateNotFound(templateID)
	}
	return cloneTemplate(t), nil
}

// ListTemplates lists a tenant's templates ordered by name
func (s *MemoryStore) ListTemplates(ctx context.Context, tenantID string) ([]*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Template, 0)
	for _, t := range s.templates {
		if t.TenantID == tenantID {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateTemplate stores a new template at version 1
func (s *MemoryStore) CreateTemplate(ctx context.Context, tmpl *model.Template) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := cloneTemplate(tmpl)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	k := key(t.TenantID, t.ID)
	if _, exists := s.templates[k]; exists {
		return nil, fmt.Errorf("template %s: %w", t.ID, errors.ErrAlreadyExists)
	}
	now := s.clock.Now()
	t.Version = 1
	t.CreatedAt = now
	t.UpdatedAt = now
	s.templates[k] = t
	return cloneTemplate(t), nil
}

// UpdateTemplate applies a patch under optimistic locking
func (s *MemoryStore) UpdateTemplate(ctx context.Context, tenantID, templateID string, patch *model.TemplatePatch, expectedVersion int64) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, templateID)
	current, ok := s.templates[k]
	if !ok {
		return nil, templateNotFound(templateID)
	}
	if current.Version != expectedVersion {
		return nil, errors.NewVersionConflict("template", templateID, expectedVersion, current.Version, cloneTemplate(current))
	}
	updated := patch.Apply(current)
	updated.Version = current.Version + 1
	updated.UpdatedAt = s.clock.Now()
	s.templates[k] = updated
	return cloneTemplate(updated), nil
}

// DeleteTemplate removes a template
func (s *MemoryStore) DeleteTemplate(ctx context.Context, tenantID, templateID string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, templateID)
	current, ok := s.templates[k]
	if !ok {
		return templateNotFound(templateID)
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return errors.NewVersionConflict("template", templateID, expectedVersion, current.Version, cloneTemplate(current))
	}
	delete(s.templates, k)
	return nil
}

// CheckOverlap fails with a REGION_OVERLAP validation error when candidate
// intersects any sibling other than excludeID.
func CheckOverlap(candidate *model.Region, siblings []*model.Region, excludeID string) error {
	ids := validation.FindOverlaps(candidate, siblings, excludeID)
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeOverlap, "",
		fmt.Sprintf("region overlaps %s", strings.Join(ids, ", ")))}
}

// SortRegions orders regions by position, then grid placement
func SortRegions(regions []*model.Region) {
	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if a.GridRow != b.GridRow {
			return a.GridRow < b.GridRow
		}
		if a.GridCol != b.GridCol {
			return a.GridCol < b.GridCol
		}
		return a.ID < b.ID
	})
}

func values(m map[string]*model.Region) []*model.Region {
	out := make([]*model.Region, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

func cloneTemplate(t *model.Template) *model.Template {
	c := *t
	c.Regions = make([]model.TemplateRegion, len(t.Regions))
	for i, r := range t.Regions {
		c.Regions[i] = r
		c.Regions[i].WidgetConfig = r.WidgetConfig.Clone()
		c.Regions[i].Config = model.CloneConfig(r.Config)
	}
	return &c
}

func layoutNotFound(id string) error {
	return fmt.Errorf("layout %s: %w", id, errors.ErrNotFound)
}

func regionNotFound(id string) error {
	return fmt.Errorf("region %s: %w", id, errors.ErrNotFound)
}

func templateNotFound(id string) error {
	return fmt.Errorf("template %s: %w", id, errors.ErrNotFound)
}
