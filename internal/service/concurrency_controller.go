package service

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/store"
	"github.com/pestroute/layoutsync/internal/validation"
)

// SubmitRequest is one versioned region update
type SubmitRequest struct {
	TenantID string
	LayoutID string
	RegionID string
	Patch    *model.RegionPatch
	// ExpectedVersion is the version the caller last observed
	ExpectedVersion int64
	// Base is the caller's last observed state. It is validated against
	// with the patch applied and becomes the conflict's local version.
	Base *model.Region
	// Siblings, when given, are checked for overlap before submission
	Siblings []*model.Region
}

// SubmitResult is either Accepted (Region set) or a Conflict
type SubmitResult struct {
	Region     *model.Region
	NewVersion int64
	Conflict   *model.Conflict
}

// Accepted reports whether the write was applied
func (r *SubmitResult) Accepted() bool {
	return r.Conflict == nil
}

// Submitter submits versioned region updates
type Submitter interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error)
}

// ConcurrencyController wraps region mutations with a version stamp and
// classifies the outcome. Validation failures return before any storage
// call; version conflicts come back as a Conflict value rather than an
// error; any other failure is returned as-is and never retried here.
type ConcurrencyController struct {
	regions   store.RegionStore
	validator *validation.Validator
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewConcurrencyController creates a new concurrency controller
func NewConcurrencyController(
	regions store.RegionStore,
	validator *validation.Validator,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ConcurrencyController {
	return &ConcurrencyController{
		regions:   regions,
		validator: validator,
		clock:     clock,
		metrics:   m,
		logger:    logger,
	}
}

// Submit validates and submits a region update at req.ExpectedVersion
func (c *ConcurrencyController) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := c.validator.ValidateUpdate(req.Base, req.Patch); err != nil {
		c.metrics.RecordSubmission("invalid")
		return nil, err
	}
	if req.Base != nil && req.Patch.TouchesGeometry() && len(req.Siblings) > 0 {
		if err := store.CheckOverlap(req.Patch.Apply(req.Base), req.Siblings, req.RegionID); err != nil {
			c.metrics.RecordSubmission("invalid")
			return nil, err
		}
	}

	region, err := c.regions.UpdateRegion(ctx, req.TenantID, req.LayoutID, req.RegionID, req.Patch, req.ExpectedVersion)
	if err == nil {
		c.metrics.RecordSubmission("accepted")
		c.logger.Debug("Region update accepted",
			zap.String("region_id", req.RegionID),
			zap.Int64("expected_version", req.ExpectedVersion),
			zap.Int64("new_version", region.Version))
		return &SubmitResult{Region: region, NewVersion: region.Version}, nil
	}

	vc, ok := errors.AsVersionConflict(err)
	if !ok {
		c.metrics.RecordSubmission("failed")
		return nil, err
	}

	server, err := c.currentState(ctx, req.TenantID, req.LayoutID, req.RegionID, vc)
	if err != nil {
		c.metrics.RecordSubmission("failed")
		return nil, fmt.Errorf("failed to fetch current state after conflict: %w", err)
	}

	c.metrics.RecordSubmission("conflict")
	c.logger.Info("Version conflict on region update",
		zap.String("tenant_id", req.TenantID),
		zap.String("region_id", req.RegionID),
		zap.Int64("expected_version", req.ExpectedVersion),
		zap.Int64("current_version", server.Version))

	return &SubmitResult{Conflict: &model.Conflict{
		TenantID:      req.TenantID,
		LayoutID:      req.LayoutID,
		ResourceID:    req.RegionID,
		LocalChanges:  req.Patch.Clone(),
		LocalVersion:  req.Base.Clone(),
		ServerVersion: server,
		DetectedAt:    c.clock.Now(),
	}}, nil
}

// Create validates and creates a region
func (c *ConcurrencyController) Create(ctx context.Context, region *model.Region, siblings []*model.Region) (*model.Region, error) {
	if err := c.validator.ValidateCreate(region); err != nil {
		c.metrics.RecordSubmission("invalid")
		return nil, err
	}
	if err := store.CheckOverlap(region, siblings, region.ID); err != nil {
		c.metrics.RecordSubmission("invalid")
		return nil, err
	}

	created, err := c.regions.CreateRegion(ctx, region)
	if err != nil {
		c.metrics.RecordSubmission("failed")
		return nil, err
	}
	c.metrics.RecordSubmission("accepted")
	return created, nil
}

// Delete deletes a region at expectedVersion. A stale delete is returned
// as *errors.VersionConflictError; deletes are not negotiated.
func (c *ConcurrencyController) Delete(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error {
	if err := c.regions.DeleteRegion(ctx, tenantID, layoutID, regionID, expectedVersion); err != nil {
		if _, ok := errors.AsVersionConflict(err); ok {
			c.metrics.RecordSubmission("conflict")
		} else {
			c.metrics.RecordSubmission("failed")
		}
		return err
	}
	c.metrics.RecordSubmission("accepted")
	return nil
}

// Reorder sets display positions without an expected version. Every
// region whose position changes gets a new version.
func (c *ConcurrencyController) Reorder(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error) {
	regions, err := c.regions.ReorderRegions(ctx, tenantID, layoutID, positions)
	if err != nil {
		c.metrics.RecordSubmission("failed")
		return nil, err
	}
	c.metrics.RecordSubmission("accepted")
	return regions, nil
}

// currentState returns the stored region carried by the conflict, fetching
// it when the storage tier did not include it.
func (c *ConcurrencyController) currentState(ctx context.Context, tenantID, layoutID, regionID string, vc *errors.VersionConflictError) (*model.Region, error) {
	if r, ok := vc.Current.(*model.Region); ok && r != nil && r.ID != "" {
		return r.Clone(), nil
	}
	return c.regions.GetRegion(ctx, tenantID, layoutID, regionID)
}
