package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRectIntersects(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want bool
	}{
		{"same cell", Rect{0, 0, 1, 1}, Rect{0, 0, 1, 1}, true},
		{"touching columns", Rect{0, 0, 1, 2}, Rect{0, 2, 1, 2}, false},
		{"touching rows", Rect{0, 0, 2, 2}, Rect{2, 0, 2, 2}, false},
		{"partial overlap", Rect{0, 0, 3, 3}, Rect{2, 2, 3, 3}, true},
		{"contained", Rect{0, 0, 4, 12}, Rect{1, 3, 1, 1}, true},
		{"row overlap only", Rect{0, 0, 4, 2}, Rect{1, 5, 1, 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Intersects(tt.b))
			assert.Equal(t, tt.want, tt.b.Intersects(tt.a))
		})
	}
}

func TestRegionPatch_FieldsAndApply(t *testing.T) {
	base := &Region{ID: "r1", GridRow: 0, GridCol: 2, RowSpan: 2, ColSpan: 3, MinWidth: IntPtr(100), Version: 3}

	patch := &RegionPatch{GridRow: IntPtr(5), IsLocked: BoolPtr(true), ClearMinWidth: true}
	assert.Equal(t, []string{FieldGridRow, FieldMinWidth, FieldIsLocked}, patch.Fields())
	assert.True(t, patch.TouchesGeometry())

	out := patch.Apply(base)
	assert.Equal(t, 5, out.GridRow)
	assert.True(t, out.IsLocked)
	assert.Nil(t, out.MinWidth)
	assert.Equal(t, 2, out.GridCol)

	// base untouched
	assert.Equal(t, 0, base.GridRow)
	require.NotNil(t, base.MinWidth)
	assert.Equal(t, 100, *base.MinWidth)
}

func TestRegionPatch_IsEmpty(t *testing.T) {
	var nilPatch *RegionPatch
	assert.True(t, nilPatch.IsEmpty())
	assert.True(t, (&RegionPatch{}).IsEmpty())
	assert.False(t, (&RegionPatch{Config: map[string]any{}}).IsEmpty())
}

func TestPatchFromRegionAndMerge(t *testing.T) {
	server := &Region{GridRow: 2, ColSpan: 6, WidgetType: WidgetNotes}
	fromServer := PatchFromRegion(server, []string{FieldColSpan, FieldGridRow})
	local := &RegionPatch{GridRow: IntPtr(5)}

	merged := fromServer.Merge(local)
	assert.Equal(t, []string{FieldGridRow, FieldColSpan}, merged.Fields())
	assert.Equal(t, 5, *merged.GridRow)
	assert.Equal(t, 6, *merged.ColSpan)
}

func TestRegionClone_IsDeep(t *testing.T) {
	r := &Region{
		Config:       map[string]any{"theme": map[string]any{"color": "blue"}},
		WidgetConfig: &WidgetConfig{Chart: &ChartConfig{Title: "Revenue", Series: []string{"a"}}},
	}
	c := r.Clone()
	c.Config["theme"].(map[string]any)["color"] = "red"
	c.WidgetConfig.Chart.Series[0] = "b"

	assert.Equal(t, "blue", r.Config["theme"].(map[string]any)["color"])
	assert.Equal(t, "a", r.WidgetConfig.Chart.Series[0])
}

func TestRegionPatchClone_IsDeep(t *testing.T) {
	p := &RegionPatch{
		GridRow:  IntPtr(1),
		Position: IntPtr(4),
		IsLocked: BoolPtr(true),
		GroupID:  StringPtr("kpis"),
	}
	c := p.Clone()
	*c.GridRow = 9
	*c.Position = 7
	*c.IsLocked = false
	*c.GroupID = "charts"

	assert.Equal(t, 1, *p.GridRow)
	assert.Equal(t, 4, *p.Position)
	assert.True(t, *p.IsLocked)
	assert.Equal(t, "kpis", *p.GroupID)
}

func TestWidgetConfig_Variant(t *testing.T) {
	wt, err := (&WidgetConfig{KPI: &KPIConfig{Metric: "jobs"}}).Variant()
	require.NoError(t, err)
	assert.Equal(t, WidgetKPI, wt)

	_, err = (&WidgetConfig{}).Variant()
	assert.Error(t, err)

	_, err = (&WidgetConfig{KPI: &KPIConfig{}, Notes: &NotesConfig{}}).Variant()
	assert.Error(t, err)
}

func TestQueuedOperation_JSONSelectsPayloadVariant(t *testing.T) {
	op := &QueuedOperation{
		ID:         "op-1",
		Type:       OpUpdate,
		Resource:   ResourceRegion,
		ResourceID: "r1",
		Payload: &RegionUpdatePayload{
			TenantID:        "t1",
			LayoutID:        "l1",
			Patch:           &RegionPatch{GridRow: IntPtr(4)},
			ExpectedVersion: 7,
		},
		EnqueuedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:     StatusPending,
	}

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded QueuedOperation
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded.Payload.(*RegionUpdatePayload)
	require.True(t, ok, "payload decoded as %T", decoded.Payload)
	assert.Equal(t, "l1", payload.LayoutID)
	assert.Equal(t, int64(7), payload.ExpectedVersion)
	assert.Equal(t, 4, *payload.Patch.GridRow)
	assert.NoError(t, decoded.Validate())
}

func TestQueuedOperation_Validate(t *testing.T) {
	t.Run("region op without layout", func(t *testing.T) {
		op := &QueuedOperation{Type: OpDelete, Resource: ResourceRegion, ResourceID: "r1",
			Payload: &RegionDeletePayload{TenantID: "t1"}}
		assert.True(t, errors.Is(op.Validate(), ErrInvalidPayload))
	})

	t.Run("mismatched variant", func(t *testing.T) {
		op := &QueuedOperation{Type: OpCreate, Resource: ResourceLayout,
			Payload: &RegionCreatePayload{TenantID: "t1", LayoutID: "l1", Region: &Region{}}}
		assert.True(t, errors.Is(op.Validate(), ErrInvalidPayload))
	})

	t.Run("update without resource id", func(t *testing.T) {
		op := &QueuedOperation{Type: OpUpdate, Resource: ResourceLayout,
			Payload: &LayoutUpdatePayload{TenantID: "t1", Patch: &LayoutPatch{Name: StringPtr("x")}}}
		assert.True(t, errors.Is(op.Validate(), ErrInvalidPayload))
	})

	t.Run("layout reorder unsupported", func(t *testing.T) {
		_, err := NewPayload(ResourceLayout, OpReorder)
		assert.True(t, errors.Is(err, ErrInvalidPayload))
	})
}

func TestBulkParamsDelta(t *testing.T) {
	dr, dc := BulkParams{Direction: DirectionLeft, Amount: 2}.Delta()
	assert.Equal(t, 0, dr)
	assert.Equal(t, -2, dc)

	dr, dc = BulkParams{Direction: DirectionDown}.Delta()
	assert.Equal(t, 1, dr)
	assert.Equal(t, 0, dc)

	dr, dc = BulkParams{Direction: DirectionDown, DeltaCol: 3}.Delta()
	assert.Equal(t, 0, dr)
	assert.Equal(t, 3, dc)
}
