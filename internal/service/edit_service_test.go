package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/connectivity"
	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/retry"
	"github.com/pestroute/layoutsync/internal/validation"
)

type editHarness struct {
	*fixture
	signal   *connectivity.Signal
	queue    *OfflineQueue
	registry *NegotiationRegistry
	edits    *EditService
}

func newEditHarness(t *testing.T, policy retry.Policy) *editHarness {
	t.Helper()
	f := newFixture(t)
	signal := connectivity.NewSignal(true, zap.NewNop())
	queue := NewOfflineQueue(&memoryQueueStore{}, new(MockDispatcher), signal, nil, DefaultQueueConfig(), f.clock, nil, zap.NewNop())
	registry := NewNegotiationRegistry(f.controller, f.cache, f.clock, nil, zap.NewNop())
	executor := retry.NewExecutor(f.clock, policy, zap.NewNop())

	return &editHarness{
		fixture:  f,
		signal:   signal,
		queue:    queue,
		registry: registry,
		edits: NewEditService(f.controller, f.store, validation.NewValidator(), queue, registry,
			f.cache, signal, executor, nil, zap.NewNop()),
	}
}

func noRetries() retry.Policy {
	return retry.Policy{MaxRetries: 0, InitialDelay: time.Second, Multiplier: 2}
}

func TestEdit_UpdateAppliedRefreshesCache(t *testing.T) {
	h := newEditHarness(t, noRetries())
	h.seed(t, "r1", 0, 0, 2, 4)

	res, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{GridRow: model.IntPtr(2)}, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(2), res.Region.Version)

	cached, ok := h.cache.Get(testTenant, testLayout, "r1")
	require.True(t, ok)
	assert.Equal(t, 2, cached.GridRow)
}

func TestEdit_OfflineEditsAreQueued(t *testing.T) {
	h := newEditHarness(t, noRetries())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.signal.Set(false)

	res, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{GridRow: model.IntPtr(2)}, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Zero(t, h.store.callCount("UpdateRegion"))

	op, err := h.queue.Get(res.OperationID)
	require.NoError(t, err)
	payload := op.Payload.(*model.RegionUpdatePayload)
	assert.Equal(t, int64(1), payload.ExpectedVersion, "queued against the cached version")

	created, err := h.edits.CreateRegion(h.ctx, kpiRegion("", 3, 0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, created.Outcome)
	op, err = h.queue.Get(created.OperationID)
	require.NoError(t, err)
	assert.NotEmpty(t, op.Payload.(*model.RegionCreatePayload).Region.ID, "queued creates carry their id")
}

func TestEdit_ExhaustedRetriesFallBackToQueue(t *testing.T) {
	h := newEditHarness(t, noRetries())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.store.failNext("UpdateRegion", unavailable())

	res, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{IsLocked: model.BoolPtr(true)}, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, 1, h.queue.Status().Pending)
}

func TestEdit_RecoversWithinRetryBudget(t *testing.T) {
	h := newEditHarness(t, retry.DefaultPolicy())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.store.failNext("UpdateRegion", unavailable(), unavailable())

	type result struct {
		res *EditResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{GridRow: model.IntPtr(2)}, 0)
		done <- result{res, err}
	}()

	h.clock.BlockUntil(1)
	h.clock.Advance(time.Second)
	h.clock.BlockUntil(1)
	h.clock.Advance(2 * time.Second)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, OutcomeApplied, r.res.Outcome)
	case <-time.After(time.Second):
		t.Fatal("update did not complete")
	}
	assert.Equal(t, 3, h.store.callCount("UpdateRegion"))
	assert.Zero(t, h.queue.Status().Total)
}

func TestEdit_PermanentFailuresAreReturned(t *testing.T) {
	h := newEditHarness(t, retry.DefaultPolicy())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.store.failNext("UpdateRegion", forbidden())

	_, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{IsLocked: model.BoolPtr(true)}, 0)
	te, ok := errors.AsTransport(err)
	require.True(t, ok)
	assert.Equal(t, 403, te.StatusCode)
	assert.Equal(t, 1, h.store.callCount("UpdateRegion"))
	assert.Zero(t, h.queue.Status().Total)
}

func TestEdit_ValidationErrorsAreNotQueued(t *testing.T) {
	h := newEditHarness(t, noRetries())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.signal.Set(false)

	_, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{ColSpan: model.IntPtr(13)}, 0)
	_, ok := errors.AsValidation(err)
	assert.True(t, ok)
	assert.Zero(t, h.queue.Status().Total)
}

func TestEdit_ConflictOpensNegotiation(t *testing.T) {
	h := newEditHarness(t, noRetries())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.bump(t, "r1", &model.RegionPatch{GridRow: model.IntPtr(3)})

	res, err := h.edits.UpdateRegion(h.ctx, testTenant, testLayout, "r1", &model.RegionPatch{GridRow: model.IntPtr(6)}, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NotNil(t, res.Negotiation)
	assert.Equal(t, StatePresenting, res.Negotiation.State)
	assert.Equal(t, []string{model.FieldGridRow}, res.Negotiation.Conflict.ChangedFields)

	out, err := h.registry.Resolve(h.ctx, res.Negotiation.ID, ModeKeepLocal)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Region.GridRow)
	assert.Equal(t, int64(3), out.Region.Version)
}

func TestEdit_LoadLayout(t *testing.T) {
	h := newEditHarness(t, noRetries())
	r1, err := h.store.MemoryStore.CreateRegion(h.ctx, kpiRegion("r1", 0, 0, 1, 2))
	require.NoError(t, err)

	h.signal.Set(false)
	regions, err := h.edits.LoadLayout(h.ctx, testTenant, testLayout)
	require.NoError(t, err)
	assert.Empty(t, regions, "offline reads come from the cache")

	h.signal.Set(true)
	regions, err = h.edits.LoadLayout(h.ctx, testTenant, testLayout)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	cached, ok := h.cache.Get(testTenant, testLayout, "r1")
	require.True(t, ok)
	assert.Equal(t, r1.Version, cached.Version)

	h.store.failNext("ListRegions", unavailable())
	regions, err = h.edits.LoadLayout(h.ctx, testTenant, testLayout)
	require.NoError(t, err)
	assert.Len(t, regions, 1, "an unreachable store falls back to the cache")
}

func TestEdit_DeleteUsesCachedVersion(t *testing.T) {
	h := newEditHarness(t, noRetries())
	h.seed(t, "r1", 0, 0, 2, 4)
	h.bump(t, "r1", &model.RegionPatch{IsCollapsed: model.BoolPtr(true)})

	_, err := h.edits.DeleteRegion(h.ctx, testTenant, testLayout, "r1", 0)
	_, ok := errors.AsVersionConflict(err)
	require.True(t, ok, "the cached version is stale")

	res, err := h.edits.DeleteRegion(h.ctx, testTenant, testLayout, "r1", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	_, cached := h.cache.Get(testTenant, testLayout, "r1")
	assert.False(t, cached)
}

func TestEdit_ReorderRequiresPositions(t *testing.T) {
	h := newEditHarness(t, noRetries())

	_, err := h.edits.ReorderRegions(h.ctx, testTenant, testLayout, nil)
	ve, ok := errors.AsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.Has(errors.ErrorCodeEmptyUpdate))
}
