package service

import (
	"sync"

	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/store"
)

// RegionCache holds the caller's last observed state of each region. It is
// the source of base state and expected versions for new submissions.
type RegionCache struct {
	mu      sync.RWMutex
	layouts map[string]map[string]*model.Region
}

// NewRegionCache creates an empty cache
func NewRegionCache() *RegionCache {
	return &RegionCache{layouts: make(map[string]map[string]*model.Region)}
}

func layoutKey(tenantID, layoutID string) string {
	return tenantID + "/" + layoutID
}

// Get returns a copy of the cached region
func (c *RegionCache) Get(tenantID, layoutID, regionID string) (*model.Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.layouts[layoutKey(tenantID, layoutID)][regionID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Put stores r, replacing whatever was cached for the same id
func (c *RegionCache) Put(r *model.Region) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := layoutKey(r.TenantID, r.LayoutID)
	regions, ok := c.layouts[key]
	if !ok {
		regions = make(map[string]*model.Region)
		c.layouts[key] = regions
	}
	regions[r.ID] = r.Clone()
}

// Delete forgets a region
func (c *RegionCache) Delete(tenantID, layoutID, regionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.layouts[layoutKey(tenantID, layoutID)], regionID)
}

// ReplaceLayout swaps in a freshly listed region set
func (c *RegionCache) ReplaceLayout(tenantID, layoutID string, regions []*model.Region) {
	m := make(map[string]*model.Region, len(regions))
	for _, r := range regions {
		m[r.ID] = r.Clone()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layouts[layoutKey(tenantID, layoutID)] = m
}

// DropLayout forgets every region of a layout
func (c *RegionCache) DropLayout(tenantID, layoutID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.layouts, layoutKey(tenantID, layoutID))
}

// List returns copies of a layout's cached regions in display order
func (c *RegionCache) List(tenantID, layoutID string) []*model.Region {
	c.mu.RLock()
	regions := c.layouts[layoutKey(tenantID, layoutID)]
	out := make([]*model.Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Clone())
	}
	c.mu.RUnlock()

	store.SortRegions(out)
	return out
}
