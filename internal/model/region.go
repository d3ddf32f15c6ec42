package model

import "time"

// Grid geometry limits. The grid is fixed at 12 columns; one grid unit is
// roughly 100px on either axis.
const (
	GridColumns    = 12
	MaxGridCol     = GridColumns - 1
	MaxRowSpan     = 20
	MaxColSpan     = GridColumns
	GridUnitPixels = 100
)

// Editable region field names, as they appear on the wire.
const (
	FieldGridRow          = "grid_row"
	FieldGridCol          = "grid_col"
	FieldRowSpan          = "row_span"
	FieldColSpan          = "col_span"
	FieldMinWidth         = "min_width"
	FieldMinHeight        = "min_height"
	FieldConfig           = "config"
	FieldWidgetType       = "widget_type"
	FieldWidgetConfig     = "widget_config"
	FieldIsCollapsed      = "is_collapsed"
	FieldIsLocked         = "is_locked"
	FieldIsHiddenOnMobile = "is_hidden_on_mobile"
	FieldGroupID          = "group_id"
	FieldPosition         = "position"
)

// EditableFields lists every field a RegionPatch can carry, in wire order.
var EditableFields = []string{
	FieldGridRow,
	FieldGridCol,
	FieldRowSpan,
	FieldColSpan,
	FieldMinWidth,
	FieldMinHeight,
	FieldConfig,
	FieldWidgetType,
	FieldWidgetConfig,
	FieldIsCollapsed,
	FieldIsLocked,
	FieldIsHiddenOnMobile,
	FieldGroupID,
	FieldPosition,
}

// Region is a placed widget on a layout
type Region struct {
	ID       string `json:"id"`
	LayoutID string `json:"layout_id"`
	TenantID string `json:"tenant_id"`

	GridRow int `json:"grid_row"`
	GridCol int `json:"grid_col"`
	RowSpan int `json:"row_span"`
	ColSpan int `json:"col_span"`

	MinWidth     *int           `json:"min_width,omitempty"`
	MinHeight    *int           `json:"min_height,omitempty"`
	Config       map[string]any `json:"config,omitempty"` // UI cosmetics only
	WidgetType   WidgetType     `json:"widget_type"`
	WidgetConfig *WidgetConfig  `json:"widget_config,omitempty"`

	IsCollapsed      bool   `json:"is_collapsed"`
	IsLocked         bool   `json:"is_locked"`
	IsHiddenOnMobile bool   `json:"is_hidden_on_mobile"`
	GroupID          string `json:"group_id,omitempty"`
	Position         int    `json:"position"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rect returns the grid rectangle the region occupies
func (r *Region) Rect() Rect {
	return Rect{Row: r.GridRow, Col: r.GridCol, RowSpan: r.RowSpan, ColSpan: r.ColSpan}
}

// Clone returns a deep copy of the region
func (r *Region) Clone() *Region {
	if r == nil {
		return nil
	}
	c := *r
	c.MinWidth = cloneInt(r.MinWidth)
	c.MinHeight = cloneInt(r.MinHeight)
	c.Config = CloneConfig(r.Config)
	c.WidgetConfig = r.WidgetConfig.Clone()
	return &c
}

// FieldValue returns the current value of an editable field.
// Pointer fields are dereferenced so values compare structurally.
func (r *Region) FieldValue(field string) any {
	switch field {
	case FieldGridRow:
		return r.GridRow
	case FieldGridCol:
		return r.GridCol
	case FieldRowSpan:
		return r.RowSpan
	case FieldColSpan:
		return r.ColSpan
	case FieldMinWidth:
		if r.MinWidth == nil {
			return nil
		}
		return *r.MinWidth
	case FieldMinHeight:
		if r.MinHeight == nil {
			return nil
		}
		return *r.MinHeight
	case FieldConfig:
		if len(r.Config) == 0 {
			return nil
		}
		return r.Config
	case FieldWidgetType:
		return r.WidgetType
	case FieldWidgetConfig:
		if r.WidgetConfig == nil {
			return nil
		}
		return *r.WidgetConfig
	case FieldIsCollapsed:
		return r.IsCollapsed
	case FieldIsLocked:
		return r.IsLocked
	case FieldIsHiddenOnMobile:
		return r.IsHiddenOnMobile
	case FieldGroupID:
		return r.GroupID
	case FieldPosition:
		return r.Position
	default:
		return nil
	}
}

// Rect is an axis-aligned rectangle on the layout grid
type Rect struct {
	Row     int
	Col     int
	RowSpan int
	ColSpan int
}

// Intersects reports whether two rectangles overlap with positive area on
// both axes. Touching edges do not overlap.
func (a Rect) Intersects(b Rect) bool {
	return a.Row < b.Row+b.RowSpan &&
		b.Row < a.Row+a.RowSpan &&
		a.Col < b.Col+b.ColSpan &&
		b.Col < a.Col+a.ColSpan
}

// RegionPosition is one entry of a reorder request
type RegionPosition struct {
	RegionID string `json:"region_id"`
	Position int    `json:"position"`
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// BoolPtr returns a pointer to v
func BoolPtr(v bool) *bool { return &v }

// StringPtr returns a pointer to v
func StringPtr(v string) *string { return &v }

// CloneConfig deep-copies a free-form config bag
func CloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneConfig(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
