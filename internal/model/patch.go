package model

// RegionPatch is a partial update. Nil fields are left unchanged.
// ClearMinWidth/ClearMinHeight reset the optional minimums.
type RegionPatch struct {
	GridRow          *int           `json:"grid_row,omitempty"`
	GridCol          *int           `json:"grid_col,omitempty"`
	RowSpan          *int           `json:"row_span,omitempty"`
	ColSpan          *int           `json:"col_span,omitempty"`
	MinWidth         *int           `json:"min_width,omitempty"`
	MinHeight        *int           `json:"min_height,omitempty"`
	ClearMinWidth    bool           `json:"clear_min_width,omitempty"`
	ClearMinHeight   bool           `json:"clear_min_height,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
	WidgetType       *WidgetType    `json:"widget_type,omitempty"`
	WidgetConfig     *WidgetConfig  `json:"widget_config,omitempty"`
	IsCollapsed      *bool          `json:"is_collapsed,omitempty"`
	IsLocked         *bool          `json:"is_locked,omitempty"`
	IsHiddenOnMobile *bool          `json:"is_hidden_on_mobile,omitempty"`
	GroupID          *string        `json:"group_id,omitempty"`
	Position         *int           `json:"position,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *RegionPatch) IsEmpty() bool {
	return p == nil || len(p.Fields()) == 0
}

// Has reports whether the patch carries field
func (p *RegionPatch) Has(field string) bool {
	if p == nil {
		return false
	}
	switch field {
	case FieldGridRow:
		return p.GridRow != nil
	case FieldGridCol:
		return p.GridCol != nil
	case FieldRowSpan:
		return p.RowSpan != nil
	case FieldColSpan:
		return p.ColSpan != nil
	case FieldMinWidth:
		return p.MinWidth != nil || p.ClearMinWidth
	case FieldMinHeight:
		return p.MinHeight != nil || p.ClearMinHeight
	case FieldConfig:
		return p.Config != nil
	case FieldWidgetType:
		return p.WidgetType != nil
	case FieldWidgetConfig:
		return p.WidgetConfig != nil
	case FieldIsCollapsed:
		return p.IsCollapsed != nil
	case FieldIsLocked:
		return p.IsLocked != nil
	case FieldIsHiddenOnMobile:
		return p.IsHiddenOnMobile != nil
	case FieldGroupID:
		return p.GroupID != nil
	case FieldPosition:
		return p.Position != nil
	}
	return false
}

// Fields returns the names of the fields the patch sets, in wire order
func (p *RegionPatch) Fields() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, f := range EditableFields {
		if p.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// TouchesGeometry reports whether the patch moves or resizes the region
func (p *RegionPatch) TouchesGeometry() bool {
	return p.Has(FieldGridRow) || p.Has(FieldGridCol) || p.Has(FieldRowSpan) || p.Has(FieldColSpan)
}

// Apply returns a copy of r with the patch applied. r is not modified.
func (p *RegionPatch) Apply(r *Region) *Region {
	out := r.Clone()
	if out == nil {
		out = &Region{}
	}
	if p == nil {
		return out
	}
	if p.GridRow != nil {
		out.GridRow = *p.GridRow
	}
	if p.GridCol != nil {
		out.GridCol = *p.GridCol
	}
	if p.RowSpan != nil {
		out.RowSpan = *p.RowSpan
	}
	if p.ColSpan != nil {
		out.ColSpan = *p.ColSpan
	}
	if p.ClearMinWidth {
		out.MinWidth = nil
	} else if p.MinWidth != nil {
		out.MinWidth = cloneInt(p.MinWidth)
	}
	if p.ClearMinHeight {
		out.MinHeight = nil
	} else if p.MinHeight != nil {
		out.MinHeight = cloneInt(p.MinHeight)
	}
	if p.Config != nil {
		out.Config = CloneConfig(p.Config)
	}
	if p.WidgetType != nil {
		out.WidgetType = *p.WidgetType
	}
	if p.WidgetConfig != nil {
		out.WidgetConfig = p.WidgetConfig.Clone()
	}
	if p.IsCollapsed != nil {
		out.IsCollapsed = *p.IsCollapsed
	}
	if p.IsLocked != nil {
		out.IsLocked = *p.IsLocked
	}
	if p.IsHiddenOnMobile != nil {
		out.IsHiddenOnMobile = *p.IsHiddenOnMobile
	}
	if p.GroupID != nil {
		out.GroupID = *p.GroupID
	}
	if p.Position != nil {
		out.Position = *p.Position
	}
	return out
}

// Clone deep-copies the patch
func (p *RegionPatch) Clone() *RegionPatch {
	if p == nil {
		return nil
	}
	c := *p
	c.GridRow = cloneInt(p.GridRow)
	c.GridCol = cloneInt(p.GridCol)
	c.RowSpan = cloneInt(p.RowSpan)
	c.ColSpan = cloneInt(p.ColSpan)
	c.MinWidth = cloneInt(p.MinWidth)
	c.MinHeight = cloneInt(p.MinHeight)
	c.Config = CloneConfig(p.Config)
	c.WidgetConfig = p.WidgetConfig.Clone()
	if p.WidgetType != nil {
		v := *p.WidgetType
		c.WidgetType = &v
	}
	if p.IsCollapsed != nil {
		c.IsCollapsed = BoolPtr(*p.IsCollapsed)
	}
	if p.IsLocked != nil {
		c.IsLocked = BoolPtr(*p.IsLocked)
	}
	if p.IsHiddenOnMobile != nil {
		c.IsHiddenOnMobile = BoolPtr(*p.IsHiddenOnMobile)
	}
	if p.GroupID != nil {
		c.GroupID = StringPtr(*p.GroupID)
	}
	c.Position = cloneInt(p.Position)
	return &c
}

// PatchFromRegion builds a patch that sets each named field to the value it
// holds on r.
func PatchFromRegion(r *Region, fields []string) *RegionPatch {
	p := &RegionPatch{}
	for _, f := range fields {
		p.copyField(r, f)
	}
	return p
}

// Merge returns a copy of p with every field set on other copied over it
func (p *RegionPatch) Merge(other *RegionPatch) *RegionPatch {
	out := p.Clone()
	if out == nil {
		out = &RegionPatch{}
	}
	if other == nil {
		return out
	}
	applied := other.Apply(&Region{})
	for _, f := range other.Fields() {
		out.copyField(applied, f)
		if f == FieldMinWidth {
			out.ClearMinWidth = other.ClearMinWidth
		}
		if f == FieldMinHeight {
			out.ClearMinHeight = other.ClearMinHeight
		}
	}
	return out
}

func (p *RegionPatch) copyField(r *Region, field string) {
	switch field {
	case FieldGridRow:
		p.GridRow = IntPtr(r.GridRow)
	case FieldGridCol:
		p.GridCol = IntPtr(r.GridCol)
	case FieldRowSpan:
		p.RowSpan = IntPtr(r.RowSpan)
	case FieldColSpan:
		p.ColSpan = IntPtr(r.ColSpan)
	case FieldMinWidth:
		if r.MinWidth == nil {
			p.MinWidth = nil
			p.ClearMinWidth = true
		} else {
			p.MinWidth = IntPtr(*r.MinWidth)
			p.ClearMinWidth = false
		}
	case FieldMinHeight:
		if r.MinHeight == nil {
			p.MinHeight = nil
			p.ClearMinHeight = true
		} else {
			p.MinHeight = IntPtr(*r.MinHeight)
			p.ClearMinHeight = false
		}
	case FieldConfig:
		cfg := CloneConfig(r.Config)
		if cfg == nil {
			cfg = map[string]any{}
		}
		p.Config = cfg
	case FieldWidgetType:
		v := r.WidgetType
		p.WidgetType = &v
	case FieldWidgetConfig:
		p.WidgetConfig = r.WidgetConfig.Clone()
	case FieldIsCollapsed:
		p.IsCollapsed = BoolPtr(r.IsCollapsed)
	case FieldIsLocked:
		p.IsLocked = BoolPtr(r.IsLocked)
	case FieldIsHiddenOnMobile:
		p.IsHiddenOnMobile = BoolPtr(r.IsHiddenOnMobile)
	case FieldGroupID:
		p.GroupID = StringPtr(r.GroupID)
	case FieldPosition:
		p.Position = IntPtr(r.Position)
	}
}
