package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/store"
)

// RegionMutator is the write surface the bulk coordinator fans out to
type RegionMutator interface {
	Submitter
	Create(ctx context.Context, region *model.Region, siblings []*model.Region) (*model.Region, error)
	Delete(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error
}

// BulkConfig tunes the bulk coordinator
type BulkConfig struct {
	// HistorySize caps the undo history; the oldest entry is evicted first
	HistorySize int
	// Concurrency bounds the per-region fan-out
	Concurrency int
}

// DefaultBulkConfig returns a 50 entry history and a fan-out of 8
func DefaultBulkConfig() BulkConfig {
	return BulkConfig{HistorySize: 50, Concurrency: 8}
}

// BulkRequest is one bulk action over an explicit set of regions
type BulkRequest struct {
	TenantID  string                  `json:"-"`
	LayoutID  string                  `json:"layout_id"`
	Type      model.BulkOperationType `json:"type"`
	RegionIDs []string                `json:"region_ids"`
	Params    model.BulkParams        `json:"params"`
}

// BulkCoordinator applies one logical action to many regions. Every region
// goes through the concurrency controller on its own, so a batch can
// partially succeed; outcomes are reported per region. Successful actions
// are recorded in a bounded history of which only the latest entry can be
// undone.
type BulkCoordinator struct {
	mu      sync.Mutex
	history []*model.BulkOperation

	mutator RegionMutator
	regions store.RegionStore
	cache   *RegionCache
	cfg     BulkConfig
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewBulkCoordinator creates a new bulk coordinator. regions is used to
// read regions missing from the cache.
func NewBulkCoordinator(
	mutator RegionMutator,
	regions store.RegionStore,
	cache *RegionCache,
	cfg BulkConfig,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *BulkCoordinator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultBulkConfig().HistorySize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultBulkConfig().Concurrency
	}
	return &BulkCoordinator{
		mutator: mutator,
		regions: regions,
		cache:   cache,
		cfg:     cfg,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Apply runs a bulk action and records it for undo when at least one
// region was changed.
func (b *BulkCoordinator) Apply(ctx context.Context, req *BulkRequest) (*model.BulkResult, error) {
	ids, err := b.validate(req)
	if err != nil {
		return nil, err
	}

	entry := &model.BulkOperation{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		LayoutID:  req.LayoutID,
		Type:      req.Type,
		RegionIDs: ids,
		Data:      req.Params,
		Timestamp: b.clock.Now(),
	}
	if req.Type == model.BulkGroup && entry.Data.GroupID == "" {
		entry.Data.GroupID = uuid.New().String()
	}

	result, err := b.execute(ctx, entry)
	if err != nil {
		return nil, err
	}
	result.OperationID = entry.ID

	succeeded := result.Succeeded()
	b.metrics.RecordBulk(string(req.Type), len(succeeded), len(result.Outcomes)-len(succeeded))
	b.logger.Info("Bulk operation applied",
		zap.String("operation_id", entry.ID),
		zap.String("type", string(req.Type)),
		zap.Int("regions", len(ids)),
		zap.Int("succeeded", len(succeeded)))

	if len(succeeded) > 0 {
		entry.RegionIDs = succeeded
		b.record(entry)
	}
	return result, nil
}

// Undo inverts the most recent history entry. It fails with
// errors.ErrNothingToUndo on an empty history and errors.ErrNotUndoable
// when the latest entry is a delete or duplicate; in that case the entry
// stays where it is.
func (b *BulkCoordinator) Undo(ctx context.Context) (*model.BulkResult, error) {
	b.mu.Lock()
	if len(b.history) == 0 {
		b.mu.Unlock()
		return nil, errors.ErrNothingToUndo
	}
	last := b.history[len(b.history)-1]
	if !last.Type.Undoable() {
		b.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", last.Type, last.ID, errors.ErrNotUndoable)
	}
	b.history = b.history[:len(b.history)-1]
	b.mu.Unlock()

	inverse := invert(last)
	result, err := b.execute(ctx, inverse)
	if err != nil {
		return nil, err
	}
	result.OperationID = last.ID

	b.logger.Info("Bulk operation undone",
		zap.String("operation_id", last.ID),
		zap.String("type", string(last.Type)),
		zap.Int("succeeded", len(result.Succeeded())))
	return result, nil
}

// History returns copies of the recorded entries, oldest first
func (b *BulkCoordinator) History() []*model.BulkOperation {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*model.BulkOperation, 0, len(b.history))
	for _, h := range b.history {
		c := *h
		c.RegionIDs = append([]string(nil), h.RegionIDs...)
		out = append(out, &c)
	}
	return out
}

func (b *BulkCoordinator) validate(req *BulkRequest) ([]string, error) {
	var errs errors.ValidationErrors
	if req.TenantID == "" || req.LayoutID == "" {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidRequest, "layout_id", "layout_id is required"))
	}
	switch req.Type {
	case model.BulkMove, model.BulkResize:
		if dr, dc := req.Params.Delta(); dr == 0 && dc == 0 {
			errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidRequest, "params", "move and resize need a direction or delta"))
		}
	case model.BulkLock, model.BulkUnlock, model.BulkDelete, model.BulkDuplicate, model.BulkGroup, model.BulkUngroup:
	default:
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidRequest, "type", fmt.Sprintf("unknown bulk operation %q", req.Type)))
	}

	seen := make(map[string]bool, len(req.RegionIDs))
	var ids []string
	for _, id := range req.RegionIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidRequest, "region_ids", "at least one region is required"))
	}
	return ids, errs.ErrOrNil()
}

// execute runs entry against its regions. Moves and resizes run one region
// at a time, leading edge first, so a block of adjacent regions can shift
// without colliding with its own old placement. Everything else fans out.
func (b *BulkCoordinator) execute(ctx context.Context, entry *model.BulkOperation) (*model.BulkResult, error) {
	bases := b.loadBases(ctx, entry.TenantID, entry.LayoutID, entry.RegionIDs)
	result := &model.BulkResult{Type: entry.Type, Outcomes: make([]model.RegionOutcome, len(entry.RegionIDs))}

	var rows map[string]int
	if entry.Type == model.BulkDuplicate {
		var err error
		if rows, err = b.duplicateRows(ctx, entry, bases); err != nil {
			return nil, err
		}
	}

	switch entry.Type {
	case model.BulkMove, model.BulkResize:
		dr, dc := entry.Data.Delta()
		order := leadingEdgeOrder(entry.RegionIDs, bases, dr, dc)
		for _, i := range order {
			result.Outcomes[i] = b.applyOne(ctx, entry, entry.RegionIDs[i], bases[entry.RegionIDs[i]], rows)
		}
	default:
		var g errgroup.Group
		g.SetLimit(b.cfg.Concurrency)
		for i, id := range entry.RegionIDs {
			g.Go(func() error {
				result.Outcomes[i] = b.applyOne(ctx, entry, id, bases[id], rows)
				return nil
			})
		}
		_ = g.Wait()
	}

	switch entry.Type {
	case model.BulkGroup, model.BulkUngroup:
		if entry.PriorGroups == nil {
			entry.PriorGroups = make(map[string]string)
			for _, id := range entry.RegionIDs {
				if base, ok := bases[id]; ok && base.region != nil {
					entry.PriorGroups[id] = base.region.GroupID
				}
			}
		}
	case model.BulkLock, model.BulkUnlock:
		if entry.PriorLocks == nil {
			entry.PriorLocks = make(map[string]bool)
			for _, id := range entry.RegionIDs {
				if base, ok := bases[id]; ok && base.region != nil {
					entry.PriorLocks[id] = base.region.IsLocked
				}
			}
		}
	}
	return result, nil
}

type bulkBase struct {
	region *model.Region
	err    error
}

func (b *BulkCoordinator) loadBases(ctx context.Context, tenantID, layoutID string, ids []string) map[string]bulkBase {
	bases := make(map[string]bulkBase, len(ids))
	for _, id := range ids {
		if r, ok := b.cache.Get(tenantID, layoutID, id); ok {
			bases[id] = bulkBase{region: r}
			continue
		}
		r, err := b.regions.GetRegion(ctx, tenantID, layoutID, id)
		if err == nil {
			b.cache.Put(r)
		}
		bases[id] = bulkBase{region: r, err: err}
	}
	return bases
}

func (b *BulkCoordinator) applyOne(ctx context.Context, entry *model.BulkOperation, id string, base bulkBase, rows map[string]int) model.RegionOutcome {
	if base.err != nil {
		return failedOutcome(id, base.err)
	}
	r := base.region

	switch entry.Type {
	case model.BulkMove, model.BulkResize, model.BulkDelete:
		if r.IsLocked {
			return model.RegionOutcome{RegionID: id, Error: "region is locked", Code: string(errors.ErrorCodeForbidden)}
		}
	}

	var patch *model.RegionPatch
	switch entry.Type {
	case model.BulkMove:
		dr, dc := entry.Data.Delta()
		patch = &model.RegionPatch{GridRow: model.IntPtr(r.GridRow + dr), GridCol: model.IntPtr(r.GridCol + dc)}
	case model.BulkResize:
		dr, dc := entry.Data.Delta()
		patch = &model.RegionPatch{RowSpan: model.IntPtr(r.RowSpan + dr), ColSpan: model.IntPtr(r.ColSpan + dc)}
	case model.BulkLock, model.BulkUnlock:
		locked := entry.Type == model.BulkLock
		if prior, ok := entry.PriorLocks[id]; ok {
			// undo restores the recorded state
			if prior == r.IsLocked {
				return model.RegionOutcome{RegionID: id, Success: true, Region: r}
			}
			locked = prior
		}
		patch = &model.RegionPatch{IsLocked: model.BoolPtr(locked)}
	case model.BulkGroup:
		patch = &model.RegionPatch{GroupID: model.StringPtr(entry.Data.GroupID)}
	case model.BulkUngroup:
		group := ""
		if entry.PriorGroups != nil {
			// undo of a group restores what each region had before
			group = entry.PriorGroups[id]
		}
		patch = &model.RegionPatch{GroupID: model.StringPtr(group)}
	case model.BulkDelete:
		if err := b.mutator.Delete(ctx, r.TenantID, r.LayoutID, id, r.Version); err != nil {
			return failedOutcome(id, err)
		}
		b.cache.Delete(r.TenantID, r.LayoutID, id)
		return model.RegionOutcome{RegionID: id, Success: true}
	case model.BulkDuplicate:
		dup := r.Clone()
		dup.ID = ""
		dup.Version = 0
		dup.IsLocked = false
		dup.GridRow = rows[id]
		created, err := b.mutator.Create(ctx, dup, nil)
		if err != nil {
			return failedOutcome(id, err)
		}
		b.cache.Put(created)
		return model.RegionOutcome{RegionID: id, Success: true, Region: created}
	}

	res, err := b.mutator.Submit(ctx, &SubmitRequest{
		TenantID:        r.TenantID,
		LayoutID:        r.LayoutID,
		RegionID:        id,
		Patch:           patch,
		ExpectedVersion: r.Version,
		Base:            r,
	})
	if err != nil {
		return failedOutcome(id, err)
	}
	if !res.Accepted() {
		res.Conflict.ChangedFields = ChangedFields(res.Conflict)
		return model.RegionOutcome{
			RegionID: id,
			Conflict: res.Conflict,
			Error:    "region changed since it was last read",
			Code:     string(errors.ErrorCodeVersionConflict),
		}
	}
	b.cache.Put(res.Region)
	return model.RegionOutcome{RegionID: id, Success: true, Region: res.Region}
}

// duplicateRows places each copy below everything currently in the layout
func (b *BulkCoordinator) duplicateRows(ctx context.Context, entry *model.BulkOperation, bases map[string]bulkBase) (map[string]int, error) {
	existing, err := b.regions.ListRegions(ctx, entry.TenantID, entry.LayoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions for duplicate: %w", err)
	}
	next := 0
	for _, r := range existing {
		if bottom := r.GridRow + r.RowSpan; bottom > next {
			next = bottom
		}
	}
	rows := make(map[string]int, len(entry.RegionIDs))
	for _, id := range entry.RegionIDs {
		base := bases[id]
		if base.err != nil {
			continue
		}
		rows[id] = next
		next += base.region.RowSpan
	}
	return rows, nil
}

func (b *BulkCoordinator) record(entry *model.BulkOperation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, entry)
	if over := len(b.history) - b.cfg.HistorySize; over > 0 {
		b.history = append([]*model.BulkOperation(nil), b.history[over:]...)
	}
}

// invert builds the entry that undoes op
func invert(op *model.BulkOperation) *model.BulkOperation {
	inv := *op
	inv.RegionIDs = append([]string(nil), op.RegionIDs...)
	switch op.Type {
	case model.BulkMove, model.BulkResize:
		dr, dc := op.Data.Delta()
		inv.Data = model.BulkParams{DeltaRow: -dr, DeltaCol: -dc}
	case model.BulkLock, model.BulkUnlock:
		if op.Type == model.BulkLock {
			inv.Type = model.BulkUnlock
		} else {
			inv.Type = model.BulkLock
		}
		inv.PriorLocks = op.PriorLocks
		if inv.PriorLocks == nil {
			inv.PriorLocks = map[string]bool{}
		}
	case model.BulkGroup, model.BulkUngroup:
		// both restore the recorded prior groups
		inv.Type = model.BulkUngroup
		inv.PriorGroups = op.PriorGroups
		if inv.PriorGroups == nil {
			inv.PriorGroups = map[string]string{}
		}
	}
	return &inv
}

// leadingEdgeOrder returns indexes of ids sorted so the region furthest in
// the direction of travel goes first.
func leadingEdgeOrder(ids []string, bases map[string]bulkBase, dr, dc int) []int {
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	edge := func(i int) int {
		base := bases[ids[i]]
		if base.region == nil {
			return 0
		}
		r := base.region
		switch {
		case dc > 0:
			return r.GridCol + r.ColSpan
		case dc < 0:
			return -r.GridCol
		case dr > 0:
			return r.GridRow + r.RowSpan
		default:
			return -r.GridRow
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return edge(order[a]) > edge(order[b])
	})
	return order
}

func failedOutcome(id string, err error) model.RegionOutcome {
	return model.RegionOutcome{RegionID: id, Error: err.Error(), Code: string(errors.GetCode(err))}
}
