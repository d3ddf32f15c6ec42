package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/connectivity"
	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/retry"
	"github.com/pestroute/layoutsync/internal/store"
	"github.com/pestroute/layoutsync/internal/validation"
)

// EditOutcome is what happened to a user edit
type EditOutcome string

const (
	// OutcomeApplied means the storage tier accepted the write
	OutcomeApplied EditOutcome = "applied"
	// OutcomeQueued means the write was handed to the offline queue
	OutcomeQueued EditOutcome = "queued"
	// OutcomeConflict means the write needs a resolution choice
	OutcomeConflict EditOutcome = "conflict"
)

// EditResult reports an edit. Exactly one of Region, OperationID or
// Negotiation is set, matching Outcome.
type EditResult struct {
	Outcome     EditOutcome      `json:"outcome"`
	Region      *model.Region    `json:"region,omitempty"`
	Regions     []*model.Region  `json:"regions,omitempty"`
	OperationID string           `json:"operation_id,omitempty"`
	Negotiation *NegotiationView `json:"negotiation,omitempty"`
}

// EditController is the controller surface used by the edit flow
type EditController interface {
	RegionMutator
	Reorder(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error)
}

// Enqueuer accepts operations for later delivery
type Enqueuer interface {
	Enqueue(ctx context.Context, op *model.QueuedOperation) (string, error)
}

// EditService runs user edits through validation, a bounded direct
// submission and, when that is not possible, the offline queue. Validation
// failures and non-recoverable transport errors are returned; conflicts
// open a negotiation.
type EditService struct {
	controller EditController
	regions    store.RegionStore
	validator  *validation.Validator
	queue      Enqueuer
	registry   *NegotiationRegistry
	cache      *RegionCache
	monitor    connectivity.Monitor
	executor   *retry.Executor
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEditService creates a new edit service. Direct submissions retry
// recoverable failures under executor's policy; monitor may be nil.
func NewEditService(
	controller EditController,
	regions store.RegionStore,
	validator *validation.Validator,
	queue Enqueuer,
	registry *NegotiationRegistry,
	cache *RegionCache,
	monitor connectivity.Monitor,
	executor *retry.Executor,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EditService {
	policy := executor.Policy()
	policy.ShouldRetry = retry.IsRecoverable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.RecordRetry()
	}

	return &EditService{
		controller: controller,
		regions:    regions,
		validator:  validator,
		queue:      queue,
		registry:   registry,
		cache:      cache,
		monitor:    monitor,
		executor:   executor.WithPolicy(policy),
		metrics:    m,
		logger:     logger,
	}
}

// LoadLayout refreshes the cached regions of a layout. Offline, the cached
// regions are returned as they are.
func (s *EditService) LoadLayout(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error) {
	if !s.online() {
		return s.cache.List(tenantID, layoutID), nil
	}
	regions, err := retry.Do(ctx, s.executor, func(ctx context.Context) ([]*model.Region, error) {
		return s.regions.ListRegions(ctx, tenantID, layoutID)
	})
	if err != nil {
		if isExhausted(err) {
			s.logger.Warn("Serving cached layout", zap.String("layout_id", layoutID), zap.Error(err))
			return s.cache.List(tenantID, layoutID), nil
		}
		return nil, err
	}
	s.cache.ReplaceLayout(tenantID, layoutID, regions)
	return regions, nil
}

// CreateRegion validates and creates a region. The id is assigned here so
// a queued create can be replayed safely.
func (s *EditService) CreateRegion(ctx context.Context, region *model.Region) (*EditResult, error) {
	region = region.Clone()
	if region.ID == "" {
		region.ID = uuid.New().String()
	}
	if err := s.validator.ValidateCreate(region); err != nil {
		return nil, err
	}

	queued := &model.QueuedOperation{
		Type:     model.OpCreate,
		Resource: model.ResourceRegion,
		Payload:  &model.RegionCreatePayload{TenantID: region.TenantID, LayoutID: region.LayoutID, Region: region},
	}
	if !s.online() {
		return s.enqueue(ctx, queued, nil)
	}

	siblings := s.cache.List(region.TenantID, region.LayoutID)
	created, err := retry.Do(ctx, s.executor, func(ctx context.Context) (*model.Region, error) {
		return s.controller.Create(ctx, region, siblings)
	})
	if err != nil {
		return s.enqueueIfExhausted(ctx, queued, err)
	}
	s.cache.Put(created)
	return &EditResult{Outcome: OutcomeApplied, Region: created}, nil
}

// UpdateRegion submits a patch against the caller's last observed version.
// expectedVersion 0 means the cached version.
func (s *EditService) UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*EditResult, error) {
	base, err := s.base(ctx, tenantID, layoutID, regionID)
	if err != nil {
		return nil, err
	}
	if expectedVersion == 0 && base != nil {
		expectedVersion = base.Version
	}
	if err := s.validator.ValidateUpdate(base, patch); err != nil {
		return nil, err
	}

	queued := &model.QueuedOperation{
		Type:       model.OpUpdate,
		Resource:   model.ResourceRegion,
		ResourceID: regionID,
		Payload: &model.RegionUpdatePayload{
			TenantID:        tenantID,
			LayoutID:        layoutID,
			Patch:           patch,
			ExpectedVersion: expectedVersion,
		},
	}
	if !s.online() {
		return s.enqueue(ctx, queued, nil)
	}

	req := &SubmitRequest{
		TenantID:        tenantID,
		LayoutID:        layoutID,
		RegionID:        regionID,
		Patch:           patch,
		ExpectedVersion: expectedVersion,
		Base:            base,
		Siblings:        s.cache.List(tenantID, layoutID),
	}
	res, err := retry.Do(ctx, s.executor, func(ctx context.Context) (*SubmitResult, error) {
		return s.controller.Submit(ctx, req)
	})
	if err != nil {
		return s.enqueueIfExhausted(ctx, queued, err)
	}

	if !res.Accepted() {
		n, err := s.registry.Open(res.Conflict)
		if err != nil {
			return nil, err
		}
		return &EditResult{
			Outcome:     OutcomeConflict,
			Negotiation: &NegotiationView{ID: n.ID(), State: n.State(), Conflict: n.Conflict()},
		}, nil
	}
	s.cache.Put(res.Region)
	return &EditResult{Outcome: OutcomeApplied, Region: res.Region}, nil
}

// DeleteRegion deletes a region at expectedVersion (0 means the cached
// version, or unconditional when nothing is cached).
func (s *EditService) DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) (*EditResult, error) {
	if expectedVersion == 0 {
		if cached, ok := s.cache.Get(tenantID, layoutID, regionID); ok {
			expectedVersion = cached.Version
		}
	}

	queued := &model.QueuedOperation{
		Type:       model.OpDelete,
		Resource:   model.ResourceRegion,
		ResourceID: regionID,
		Payload:    &model.RegionDeletePayload{TenantID: tenantID, LayoutID: layoutID, ExpectedVersion: expectedVersion},
	}
	if !s.online() {
		return s.enqueue(ctx, queued, nil)
	}

	err := s.executor.Run(ctx, func(ctx context.Context) error {
		return s.controller.Delete(ctx, tenantID, layoutID, regionID, expectedVersion)
	})
	if err != nil {
		return s.enqueueIfExhausted(ctx, queued, err)
	}
	s.cache.Delete(tenantID, layoutID, regionID)
	return &EditResult{Outcome: OutcomeApplied}, nil
}

// ReorderRegions sets display positions
func (s *EditService) ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) (*EditResult, error) {
	if len(positions) == 0 {
		return nil, errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeEmptyUpdate, "positions", "no positions given")}
	}

	queued := &model.QueuedOperation{
		Type:       model.OpReorder,
		Resource:   model.ResourceRegion,
		ResourceID: layoutID,
		Payload:    &model.RegionReorderPayload{TenantID: tenantID, LayoutID: layoutID, Positions: positions},
	}
	if !s.online() {
		return s.enqueue(ctx, queued, nil)
	}

	regions, err := retry.Do(ctx, s.executor, func(ctx context.Context) ([]*model.Region, error) {
		return s.controller.Reorder(ctx, tenantID, layoutID, positions)
	})
	if err != nil {
		return s.enqueueIfExhausted(ctx, queued, err)
	}
	s.cache.ReplaceLayout(tenantID, layoutID, regions)
	return &EditResult{Outcome: OutcomeApplied, Regions: regions}, nil
}

// base returns the caller's last observed state, reading through to the
// storage tier when nothing is cached and the tier is reachable.
func (s *EditService) base(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error) {
	if r, ok := s.cache.Get(tenantID, layoutID, regionID); ok {
		return r, nil
	}
	if !s.online() {
		return nil, nil
	}
	r, err := s.regions.GetRegion(ctx, tenantID, layoutID, regionID)
	if err != nil {
		if retry.IsRecoverable(err) {
			// submit without a base; the queue or the storage tier decides
			return nil, nil
		}
		return nil, err
	}
	s.cache.Put(r)
	return r, nil
}

// enqueueIfExhausted queues the operation when direct delivery used up its
// budget on recoverable failures, and returns any other error unchanged.
func (s *EditService) enqueueIfExhausted(ctx context.Context, op *model.QueuedOperation, err error) (*EditResult, error) {
	if !isExhausted(err) {
		return nil, err
	}
	return s.enqueue(ctx, op, err)
}

func (s *EditService) enqueue(ctx context.Context, op *model.QueuedOperation, cause error) (*EditResult, error) {
	id, err := s.queue.Enqueue(ctx, op)
	if err != nil {
		return nil, err
	}
	fields := []zap.Field{
		zap.String("operation_id", id),
		zap.String("resource", string(op.Resource)),
		zap.String("type", string(op.Type)),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.logger.Info("Edit queued for later delivery", fields...)
	return &EditResult{Outcome: OutcomeQueued, OperationID: id}, nil
}

func (s *EditService) online() bool {
	return s.monitor == nil || s.monitor.Online()
}

func isExhausted(err error) bool {
	var ex *errors.ExhaustedRetriesError
	return stderrors.As(err, &ex) && retry.IsRecoverable(ex.Err)
}
