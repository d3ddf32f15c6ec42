package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
)

func TestMemoryStore_Contract(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	runStoreContract(t, NewMemoryStore(clock, zap.NewNop()))
}

func TestPostgresStore_Contract(t *testing.T) {
	url := os.Getenv("LAYOUTSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LAYOUTSYNC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStoreFromURL(ctx, url, 0, clockwork.NewRealClock(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	runStoreContract(t, s)
}

func region(tenantID, layoutID string, row, col, rowSpan, colSpan int) *model.Region {
	return &model.Region{
		TenantID:   tenantID,
		LayoutID:   layoutID,
		GridRow:    row,
		GridCol:    col,
		RowSpan:    rowSpan,
		ColSpan:    colSpan,
		WidgetType: model.WidgetNotes,
		WidgetConfig: &model.WidgetConfig{
			Notes: &model.NotesConfig{Body: "hello"},
		},
		Config: map[string]any{"title": "Notes"},
	}
}

func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	tenant := "tenant-" + uuid.NewString()

	layout, err := s.CreateLayout(ctx, &model.Layout{TenantID: tenant, Name: "Dispatch"})
	require.NoError(t, err)
	require.NotEmpty(t, layout.ID)
	assert.Equal(t, int64(1), layout.Version)

	t.Run("create and get region", func(t *testing.T) {
		created, err := s.CreateRegion(ctx, region(tenant, layout.ID, 0, 0, 2, 4))
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		got, err := s.GetRegion(ctx, tenant, layout.ID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "hello", got.WidgetConfig.Notes.Body)
		assert.Equal(t, "Notes", got.Config["title"])
	})

	t.Run("same update twice conflicts the second time", func(t *testing.T) {
		r, err := s.CreateRegion(ctx, region(tenant, layout.ID, 10, 0, 1, 2))
		require.NoError(t, err)

		patch := &model.RegionPatch{GridRow: model.IntPtr(11)}
		updated, err := s.UpdateRegion(ctx, tenant, layout.ID, r.ID, patch, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, 11, updated.GridRow)

		_, err = s.UpdateRegion(ctx, tenant, layout.ID, r.ID, patch, 1)
		vc, ok := errors.AsVersionConflict(err)
		require.True(t, ok, "expected version conflict, got %v", err)
		assert.Equal(t, int64(2), vc.CurrentVersion)
		current, ok := vc.Current.(*model.Region)
		require.True(t, ok)
		assert.Equal(t, 11, current.GridRow)
	})

	t.Run("overlap rejected at commit", func(t *testing.T) {
		_, err := s.CreateRegion(ctx, region(tenant, layout.ID, 1, 2, 2, 4))
		ve, ok := errors.AsValidation(err)
		require.True(t, ok, "expected overlap, got %v", err)
		assert.True(t, ve.Has(errors.ErrorCodeOverlap))

		r, err := s.CreateRegion(ctx, region(tenant, layout.ID, 0, 4, 2, 4))
		require.NoError(t, err)

		_, err = s.UpdateRegion(ctx, tenant, layout.ID, r.ID, &model.RegionPatch{GridCol: model.IntPtr(2)}, 1)
		ve, ok = errors.AsValidation(err)
		require.True(t, ok, "expected overlap, got %v", err)
		assert.True(t, ve.Has(errors.ErrorCodeOverlap))

		// resizing in place never collides with itself
		_, err = s.UpdateRegion(ctx, tenant, layout.ID, r.ID, &model.RegionPatch{RowSpan: model.IntPtr(1)}, 1)
		assert.NoError(t, err)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		_, err := s.GetLayout(ctx, "other-"+tenant, layout.ID)
		assert.True(t, errors.IsNotFound(err))

		_, err = s.ListRegions(ctx, "other-"+tenant, layout.ID)
		assert.True(t, errors.IsNotFound(err))

		layouts, err := s.ListLayouts(ctx, "other-"+tenant)
		require.NoError(t, err)
		assert.Empty(t, layouts)
	})

	t.Run("reorder bumps versions of moved regions", func(t *testing.T) {
		regions, err := s.ListRegions(ctx, tenant, layout.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(regions), 2)

		first := regions[0]
		out, err := s.ReorderRegions(ctx, tenant, layout.ID, []model.RegionPosition{
			{RegionID: first.ID, Position: 99},
		})
		require.NoError(t, err)
		last := out[len(out)-1]
		assert.Equal(t, first.ID, last.ID)
		assert.Equal(t, first.Version+1, last.Version)

		_, err = s.ReorderRegions(ctx, tenant, layout.ID, []model.RegionPosition{{RegionID: "missing", Position: 1}})
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("stale delete conflicts", func(t *testing.T) {
		r, err := s.CreateRegion(ctx, region(tenant, layout.ID, 12, 0, 1, 1))
		require.NoError(t, err)

		err = s.DeleteRegion(ctx, tenant, layout.ID, r.ID, 5)
		_, ok := errors.AsVersionConflict(err)
		assert.True(t, ok)

		require.NoError(t, s.DeleteRegion(ctx, tenant, layout.ID, r.ID, 1))
		_, err = s.GetRegion(ctx, tenant, layout.ID, r.ID)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("layout update uses optimistic locking", func(t *testing.T) {
		updated, err := s.UpdateLayout(ctx, tenant, layout.ID, &model.LayoutPatch{Name: model.StringPtr("Dispatch board")}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		_, err = s.UpdateLayout(ctx, tenant, layout.ID, &model.LayoutPatch{IsDefault: model.BoolPtr(true)}, 1)
		_, ok := errors.AsVersionConflict(err)
		assert.True(t, ok)
	})

	t.Run("templates", func(t *testing.T) {
		tmpl, err := s.CreateTemplate(ctx, &model.Template{
			TenantID: tenant,
			Name:     "Technician overview",
			Regions: []model.TemplateRegion{
				{GridRow: 0, GridCol: 0, RowSpan: 4, ColSpan: 8, WidgetType: model.WidgetTechnicianMap},
			},
		})
		require.NoError(t, err)

		updated, err := s.UpdateTemplate(ctx, tenant, tmpl.ID, &model.TemplatePatch{Name: model.StringPtr("Field overview")}, 1)
		require.NoError(t, err)
		assert.Equal(t, "Field overview", updated.Name)
		assert.Len(t, updated.Regions, 1)

		list, err := s.ListTemplates(ctx, tenant)
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, s.DeleteTemplate(ctx, tenant, tmpl.ID, 2))
		_, err = s.GetTemplate(ctx, tenant, tmpl.ID)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("layout delete cascades", func(t *testing.T) {
		regions, err := s.ListRegions(ctx, tenant, layout.ID)
		require.NoError(t, err)
		require.NotEmpty(t, regions)

		require.NoError(t, s.DeleteLayout(ctx, tenant, layout.ID, 0))

		_, err = s.GetRegion(ctx, tenant, layout.ID, regions[0].ID)
		assert.True(t, errors.IsNotFound(err))
		_, err = s.ListRegions(ctx, tenant, layout.ID)
		assert.True(t, errors.IsNotFound(err))
	})
}
