package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/store"
)

// Dispatcher delivers one queued operation
type Dispatcher interface {
	Dispatch(ctx context.Context, op *model.QueuedOperation) error
}

// StoreDispatcher delivers queued operations to the storage tier, one
// call per (resource, type) pair.
type StoreDispatcher struct {
	store  store.Store
	logger *zap.Logger
}

// NewStoreDispatcher creates a new dispatcher
func NewStoreDispatcher(s store.Store, logger *zap.Logger) *StoreDispatcher {
	return &StoreDispatcher{store: s, logger: logger}
}

// Dispatch executes op. A malformed operation fails with
// model.ErrInvalidPayload, which is never recoverable. Creates whose id
// already exists and deletes of missing resources count as delivered,
// since an earlier attempt may have landed before its response was lost.
// A region update queued without a base version applies to the version
// stored at delivery.
func (d *StoreDispatcher) Dispatch(ctx context.Context, op *model.QueuedOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	d.logger.Debug("Dispatching queued operation",
		zap.String("operation_id", op.ID),
		zap.String("resource", string(op.Resource)),
		zap.String("type", string(op.Type)),
		zap.String("resource_id", op.ResourceID))

	switch p := op.Payload.(type) {
	case *model.RegionCreatePayload:
		region := p.Region.Clone()
		region.TenantID = p.TenantID
		region.LayoutID = p.LayoutID
		_, err := d.store.CreateRegion(ctx, region)
		return ignoreAlreadyExists(err)
	case *model.RegionUpdatePayload:
		expected := p.ExpectedVersion
		if expected == 0 {
			current, err := d.store.GetRegion(ctx, p.TenantID, p.LayoutID, op.ResourceID)
			if err != nil {
				return err
			}
			expected = current.Version
		}
		_, err := d.store.UpdateRegion(ctx, p.TenantID, p.LayoutID, op.ResourceID, p.Patch, expected)
		return err
	case *model.RegionDeletePayload:
		return ignoreNotFound(d.store.DeleteRegion(ctx, p.TenantID, p.LayoutID, op.ResourceID, p.ExpectedVersion))
	case *model.RegionReorderPayload:
		_, err := d.store.ReorderRegions(ctx, p.TenantID, p.LayoutID, p.Positions)
		return err

	case *model.LayoutCreatePayload:
		layout := *p.Layout
		layout.TenantID = p.TenantID
		_, err := d.store.CreateLayout(ctx, &layout)
		return ignoreAlreadyExists(err)
	case *model.LayoutUpdatePayload:
		_, err := d.store.UpdateLayout(ctx, p.TenantID, op.ResourceID, p.Patch, p.ExpectedVersion)
		return err
	case *model.LayoutDeletePayload:
		return ignoreNotFound(d.store.DeleteLayout(ctx, p.TenantID, op.ResourceID, p.ExpectedVersion))

	case *model.TemplateCreatePayload:
		tmpl := *p.Template
		tmpl.TenantID = p.TenantID
		_, err := d.store.CreateTemplate(ctx, &tmpl)
		return ignoreAlreadyExists(err)
	case *model.TemplateUpdatePayload:
		_, err := d.store.UpdateTemplate(ctx, p.TenantID, op.ResourceID, p.Patch, p.ExpectedVersion)
		return err
	case *model.TemplateDeletePayload:
		return ignoreNotFound(d.store.DeleteTemplate(ctx, p.TenantID, op.ResourceID, p.ExpectedVersion))
	}

	return fmt.Errorf("%w: no dispatch for %s %s", model.ErrInvalidPayload, op.Resource, op.Type)
}

func ignoreAlreadyExists(err error) error {
	if err != nil && errors.GetCode(err) == errors.ErrorCodeAlreadyExists {
		return nil
	}
	return err
}

func ignoreNotFound(err error) error {
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}
