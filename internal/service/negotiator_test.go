package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
)

// conflictAtVersion3 builds the documented scenario: the caller saw r1 at
// version 3 with grid_row 0 and wants grid_row 5, while the server has
// moved on to version 4 with grid_row 2.
func conflictAtVersion3(t *testing.T, f *fixture) *Negotiation {
	t.Helper()
	f.seed(t, "r1", 0, 0, 2, 4)
	f.bump(t, "r1", &model.RegionPatch{IsCollapsed: model.BoolPtr(true)})
	local := f.bump(t, "r1", &model.RegionPatch{IsCollapsed: model.BoolPtr(false)})
	require.Equal(t, int64(3), local.Version)
	f.cache.Put(local)

	server := f.bump(t, "r1", &model.RegionPatch{GridRow: model.IntPtr(2)})
	require.Equal(t, int64(4), server.Version)

	res, err := f.controller.Submit(f.ctx, &SubmitRequest{
		TenantID:        testTenant,
		LayoutID:        testLayout,
		RegionID:        "r1",
		Patch:           &model.RegionPatch{GridRow: model.IntPtr(5)},
		ExpectedVersion: local.Version,
		Base:            local,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)

	n := NewNegotiation("n1", f.controller, f.cache, f.clock, nil, zap.NewNop())
	require.NoError(t, n.Present(res.Conflict))
	return n
}

func TestNegotiation_PresentComputesChangedFields(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)

	assert.Equal(t, StatePresenting, n.State())
	assert.Equal(t, []string{model.FieldGridRow}, n.Conflict().ChangedFields)
}

func TestNegotiation_KeepLocalOverwrites(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)

	out, err := n.Resolve(f.ctx, ModeKeepLocal)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, out.State)
	assert.Equal(t, int64(5), out.Region.Version)
	assert.Equal(t, 5, out.Region.GridRow)

	cached, ok := f.cache.Get(testTenant, testLayout, "r1")
	require.True(t, ok)
	assert.Equal(t, int64(5), cached.Version)
}

func TestNegotiation_TakeServerRefreshesCacheOnly(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)
	updates := f.store.callCount("UpdateRegion")

	out, err := n.Resolve(f.ctx, ModeTakeServer)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, out.State)
	assert.Equal(t, updates, f.store.callCount("UpdateRegion"), "take-server must not resubmit")

	cached, ok := f.cache.Get(testTenant, testLayout, "r1")
	require.True(t, ok)
	assert.Equal(t, 2, cached.GridRow)
	assert.Equal(t, int64(4), cached.Version)
}

func TestNegotiation_MergeSingleFieldMatchesKeepLocal(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)

	out, err := n.Resolve(f.ctx, ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.Region.Version)
	assert.Equal(t, 5, out.Region.GridRow)
}

func TestNegotiation_MergeCombinesIndependentChanges(t *testing.T) {
	for _, tc := range []struct {
		mode        ResolutionMode
		wantColSpan int
	}{
		{mode: ModeMerge, wantColSpan: 3},
		{mode: ModeKeepLocal, wantColSpan: 2},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			f := newFixture(t)
			local := f.seed(t, "r1", 0, 0, 1, 2)
			f.bump(t, "r1", &model.RegionPatch{ColSpan: model.IntPtr(3)})

			res, err := f.controller.Submit(f.ctx, &SubmitRequest{
				TenantID:        testTenant,
				LayoutID:        testLayout,
				RegionID:        "r1",
				Patch:           &model.RegionPatch{GridRow: model.IntPtr(5)},
				ExpectedVersion: local.Version,
				Base:            local,
			})
			require.NoError(t, err)

			n := NewNegotiation("n1", f.controller, f.cache, f.clock, nil, zap.NewNop())
			require.NoError(t, n.Present(res.Conflict))
			assert.ElementsMatch(t, []string{model.FieldGridRow, model.FieldColSpan}, n.Conflict().ChangedFields)

			out, err := n.Resolve(f.ctx, tc.mode)
			require.NoError(t, err)
			assert.Equal(t, 5, out.Region.GridRow)
			assert.Equal(t, tc.wantColSpan, out.Region.ColSpan)
		})
	}
}

func TestNegotiation_SecondConflictReturnsToPresenting(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)
	f.bump(t, "r1", &model.RegionPatch{GridCol: model.IntPtr(6)})

	out, err := n.Resolve(f.ctx, ModeKeepLocal)
	require.NoError(t, err)
	assert.Equal(t, StatePresenting, out.State)
	require.NotNil(t, out.Conflict)
	assert.Equal(t, int64(5), out.Conflict.ServerVersion.Version)
	assert.Contains(t, out.Conflict.ChangedFields, model.FieldGridCol)
	assert.Equal(t, StatePresenting, n.State())

	out, err = n.Resolve(f.ctx, ModeKeepLocal)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, out.State)
	assert.Equal(t, 5, out.Region.GridRow)
	assert.Equal(t, 0, out.Region.GridCol)
}

func TestNegotiation_TransportFailureStaysPresenting(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)
	f.store.failNext("UpdateRegion", unavailable())

	_, err := n.Resolve(f.ctx, ModeMerge)
	_, ok := errors.AsTransport(err)
	require.True(t, ok)
	assert.Equal(t, StatePresenting, n.State())

	out, err := n.Resolve(f.ctx, ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, out.State)
}

func TestNegotiation_Cancel(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)
	updates := f.store.callCount("UpdateRegion")

	require.NoError(t, n.Cancel())
	assert.Equal(t, StateCancelled, n.State())
	assert.Equal(t, updates, f.store.callCount("UpdateRegion"))

	cached, _ := f.cache.Get(testTenant, testLayout, "r1")
	assert.Equal(t, 0, cached.GridRow, "cancel keeps the last known state")

	_, err := n.Resolve(f.ctx, ModeKeepLocal)
	var ise *errors.InvalidStateError
	assert.ErrorAs(t, err, &ise)
	assert.ErrorAs(t, n.Cancel(), &ise)
}

func TestNegotiation_RejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	n := conflictAtVersion3(t, f)

	_, err := n.Resolve(f.ctx, ResolutionMode("coin_flip"))
	assert.Error(t, err)
	assert.Equal(t, StatePresenting, n.State())
}

func TestChangedFields_ComparesNestedValues(t *testing.T) {
	local := kpiRegion("r1", 0, 0, 1, 2)
	local.Config = map[string]any{"theme": map[string]any{"accent": "#00aa88"}}
	server := local.Clone()
	server.Config = map[string]any{"theme": map[string]any{"accent": "#00aa88"}}

	c := &model.Conflict{
		LocalChanges:  &model.RegionPatch{IsLocked: model.BoolPtr(true)},
		LocalVersion:  local,
		ServerVersion: server,
	}
	assert.Equal(t, []string{model.FieldIsLocked}, ChangedFields(c))

	server.Config["theme"].(map[string]any)["accent"] = "#ff0000"
	assert.Equal(t, []string{model.FieldConfig, model.FieldIsLocked}, ChangedFields(c))
}

func TestNegotiationRegistry(t *testing.T) {
	f := newFixture(t)
	local := f.seed(t, "r1", 0, 0, 1, 2)
	f.bump(t, "r1", &model.RegionPatch{GridRow: model.IntPtr(1)})
	res, err := f.controller.Submit(f.ctx, &SubmitRequest{
		TenantID:        testTenant,
		LayoutID:        testLayout,
		RegionID:        "r1",
		Patch:           &model.RegionPatch{GridRow: model.IntPtr(4)},
		ExpectedVersion: local.Version,
		Base:            local,
	})
	require.NoError(t, err)

	registry := NewNegotiationRegistry(f.controller, f.cache, f.clock, nil, zap.NewNop())
	n, err := registry.Open(res.Conflict)
	require.NoError(t, err)
	require.Len(t, registry.List(), 1)

	_, err = registry.Resolve(f.ctx, "missing", ModeMerge)
	assert.True(t, errors.IsNotFound(err))

	out, err := registry.Resolve(f.ctx, n.ID(), ModeTakeServer)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, out.State)
	assert.Empty(t, registry.List(), "resolved negotiations are dropped")
}
