package model

import "time"

// Layout groups the regions of one dashboard
type Layout struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsDefault   bool      `json:"is_default"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LayoutPatch is a partial layout update
type LayoutPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsDefault   *bool   `json:"is_default,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *LayoutPatch) IsEmpty() bool {
	return p == nil || (p.Name == nil && p.Description == nil && p.IsDefault == nil)
}

// Apply returns a copy of l with the patch applied
func (p *LayoutPatch) Apply(l *Layout) *Layout {
	out := *l
	if p == nil {
		return &out
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.IsDefault != nil {
		out.IsDefault = *p.IsDefault
	}
	return &out
}

// Template is a reusable set of region placements that can seed a layout
type Template struct {
	ID          string           `json:"id" yaml:"id"`
	TenantID    string           `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Regions     []TemplateRegion `json:"regions" yaml:"regions"`
	BuiltIn     bool             `json:"built_in" yaml:"-"`
	Version     int64            `json:"version" yaml:"-"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
}

// TemplateRegion is the placement of one widget inside a template
type TemplateRegion struct {
	GridRow      int            `json:"grid_row" yaml:"grid_row"`
	GridCol      int            `json:"grid_col" yaml:"grid_col"`
	RowSpan      int            `json:"row_span" yaml:"row_span"`
	ColSpan      int            `json:"col_span" yaml:"col_span"`
	MinWidth     *int           `json:"min_width,omitempty" yaml:"min_width,omitempty"`
	MinHeight    *int           `json:"min_height,omitempty" yaml:"min_height,omitempty"`
	WidgetType   WidgetType     `json:"widget_type" yaml:"widget_type"`
	WidgetConfig *WidgetConfig  `json:"widget_config,omitempty" yaml:"widget_config,omitempty"`
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ToRegion materialises the placement as an unsaved region
func (t TemplateRegion) ToRegion(tenantID, layoutID string, position int) *Region {
	return &Region{
		TenantID:     tenantID,
		LayoutID:     layoutID,
		GridRow:      t.GridRow,
		GridCol:      t.GridCol,
		RowSpan:      t.RowSpan,
		ColSpan:      t.ColSpan,
		MinWidth:     cloneInt(t.MinWidth),
		MinHeight:    cloneInt(t.MinHeight),
		WidgetType:   t.WidgetType,
		WidgetConfig: t.WidgetConfig.Clone(),
		Config:       CloneConfig(t.Config),
		Position:     position,
	}
}

// TemplatePatch is a partial template update
type TemplatePatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Regions     []TemplateRegion `json:"regions,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *TemplatePatch) IsEmpty() bool {
	return p == nil || (p.Name == nil && p.Description == nil && p.Regions == nil)
}

// Apply returns a copy of t with the patch applied
func (p *TemplatePatch) Apply(t *Template) *Template {
	out := *t
	out.Regions = append([]TemplateRegion(nil), t.Regions...)
	if p == nil {
		return &out
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Regions != nil {
		out.Regions = append([]TemplateRegion(nil), p.Regions...)
	}
	return &out
}
