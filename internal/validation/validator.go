package validation

import (
	"fmt"
	"sort"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
)

// Validator checks region geometry and content. It holds no state beyond
// its limits and is safe for concurrent use.
type Validator struct {
	gridColumns int
	maxRowSpan  int
	unitPixels  int
	scanner     *ContentScanner
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return NewValidatorWithLimits(model.GridColumns, model.MaxRowSpan, model.GridUnitPixels)
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(gridColumns, maxRowSpan, unitPixels int) *Validator {
	return &Validator{
		gridColumns: gridColumns,
		maxRowSpan:  maxRowSpan,
		unitPixels:  unitPixels,
		scanner:     NewContentScanner(),
	}
}

// ValidateCreate validates a full region record. Every violation is
// collected; the returned error is errors.ValidationErrors.
func (v *Validator) ValidateCreate(r *model.Region) error {
	if r == nil {
		return errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeInvalidRequest, "", "region is required")}
	}

	var errs errors.ValidationErrors
	errs = append(errs, v.checkBounds(&r.GridRow, &r.GridCol, &r.RowSpan, &r.ColSpan)...)
	errs = append(errs, v.checkGridFit(&r.GridCol, &r.ColSpan)...)
	errs = append(errs, v.checkMinSize(r.MinWidth, r.MinHeight, &r.RowSpan, &r.ColSpan)...)
	errs = append(errs, v.checkWidget(r.WidgetType, r.WidgetConfig, true)...)
	errs = append(errs, v.checkContent(r.Config, r.WidgetConfig, r.GroupID)...)
	return errs.ErrOrNil()
}

// ValidateUpdate validates a partial update. When base is known, checks
// that span fields (grid fit, minimum size) run against base with the patch
// applied; otherwise only the fields present in the patch are checked.
func (v *Validator) ValidateUpdate(base *model.Region, patch *model.RegionPatch) error {
	if patch.IsEmpty() {
		return errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeEmptyUpdate, "", "update contains no changes")}
	}

	var errs errors.ValidationErrors
	errs = append(errs, v.checkBounds(patch.GridRow, patch.GridCol, patch.RowSpan, patch.ColSpan)...)

	if base != nil {
		candidate := patch.Apply(base)
		if patch.Has(model.FieldGridCol) || patch.Has(model.FieldColSpan) {
			errs = append(errs, v.checkGridFit(&candidate.GridCol, &candidate.ColSpan)...)
		}
		if patch.Has(model.FieldMinWidth) || patch.Has(model.FieldMinHeight) ||
			patch.Has(model.FieldRowSpan) || patch.Has(model.FieldColSpan) {
			errs = append(errs, v.checkMinSize(candidate.MinWidth, candidate.MinHeight, &candidate.RowSpan, &candidate.ColSpan)...)
		}
		if patch.Has(model.FieldWidgetType) || patch.Has(model.FieldWidgetConfig) {
			errs = append(errs, v.checkWidget(candidate.WidgetType, candidate.WidgetConfig, true)...)
		}
	} else {
		errs = append(errs, v.checkGridFit(patch.GridCol, patch.ColSpan)...)
		errs = append(errs, v.checkMinSize(patch.MinWidth, patch.MinHeight, patch.RowSpan, patch.ColSpan)...)
		var wt model.WidgetType
		if patch.WidgetType != nil {
			wt = *patch.WidgetType
		}
		errs = append(errs, v.checkWidget(wt, patch.WidgetConfig, patch.WidgetType != nil)...)
	}

	var groupID string
	if patch.GroupID != nil {
		groupID = *patch.GroupID
	}
	errs = append(errs, v.checkContent(patch.Config, patch.WidgetConfig, groupID)...)
	return errs.ErrOrNil()
}

// ValidateLayout checks a layout's name and description
func (v *Validator) ValidateLayout(l *model.Layout) error {
	var errs errors.ValidationErrors
	if l.Name == "" {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidField, "name", "layout name is required"))
	}
	errs = append(errs, v.checkText("name", l.Name)...)
	errs = append(errs, v.checkText("description", l.Description)...)
	return errs.ErrOrNil()
}

// ValidateTemplate validates every placement of a template, including
// overlap between placements.
func (v *Validator) ValidateTemplate(t *model.Template) error {
	var errs errors.ValidationErrors
	if t.Name == "" {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidField, "name", "template name is required"))
	}
	errs = append(errs, v.checkText("name", t.Name)...)
	errs = append(errs, v.checkText("description", t.Description)...)

	placed := make([]*model.Region, 0, len(t.Regions))
	for i, tr := range t.Regions {
		r := tr.ToRegion(t.TenantID, "", i)
		r.ID = fmt.Sprintf("regions[%d]", i)
		if err := v.ValidateCreate(r); err != nil {
			ve, _ := errors.AsValidation(err)
			for _, e := range ve {
				errs = append(errs, errors.NewValidationError(e.Code, fmt.Sprintf("regions[%d].%s", i, e.Field), e.Message))
			}
			continue
		}
		if DetectOverlap(r, placed, "") {
			errs = append(errs, errors.NewValidationError(errors.ErrorCodeOverlap, fmt.Sprintf("regions[%d]", i), "region overlaps another region"))
			continue
		}
		placed = append(placed, r)
	}
	return errs.ErrOrNil()
}

func (v *Validator) checkBounds(gridRow, gridCol, rowSpan, colSpan *int) errors.ValidationErrors {
	var errs errors.ValidationErrors
	if gridRow != nil && *gridRow < 0 {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeGridRowRange, model.FieldGridRow,
			fmt.Sprintf("grid row %d must be at least 0", *gridRow)))
	}
	if gridCol != nil && (*gridCol < 0 || *gridCol > v.gridColumns-1) {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeGridColRange, model.FieldGridCol,
			fmt.Sprintf("grid column %d must be between 0 and %d", *gridCol, v.gridColumns-1)))
	}
	if rowSpan != nil && (*rowSpan < 1 || *rowSpan > v.maxRowSpan) {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeRowSpanRange, model.FieldRowSpan,
			fmt.Sprintf("row span %d must be between 1 and %d", *rowSpan, v.maxRowSpan)))
	}
	if colSpan != nil && (*colSpan < 1 || *colSpan > v.gridColumns) {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeColSpanRange, model.FieldColSpan,
			fmt.Sprintf("column span %d must be between 1 and %d", *colSpan, v.gridColumns)))
	}
	return errs
}

func (v *Validator) checkGridFit(gridCol, colSpan *int) errors.ValidationErrors {
	if gridCol == nil || colSpan == nil {
		return nil
	}
	if *gridCol+*colSpan > v.gridColumns {
		return errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeExceedsGrid, model.FieldColSpan,
			"extends beyond grid bounds")}
	}
	return nil
}

func (v *Validator) checkMinSize(minWidth, minHeight, rowSpan, colSpan *int) errors.ValidationErrors {
	var errs errors.ValidationErrors
	if minWidth != nil {
		switch {
		case *minWidth < 0:
			errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidField, model.FieldMinWidth, "minimum width must not be negative"))
		case colSpan != nil && *minWidth > *colSpan*v.unitPixels:
			errs = append(errs, errors.NewValidationError(errors.ErrorCodeMinSize, model.FieldMinWidth, "minimum size exceeds region dimensions"))
		}
	}
	if minHeight != nil {
		switch {
		case *minHeight < 0:
			errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidField, model.FieldMinHeight, "minimum height must not be negative"))
		case rowSpan != nil && *minHeight > *rowSpan*v.unitPixels:
			errs = append(errs, errors.NewValidationError(errors.ErrorCodeMinSize, model.FieldMinHeight, "minimum size exceeds region dimensions"))
		}
	}
	return errs
}

func (v *Validator) checkWidget(wt model.WidgetType, cfg *model.WidgetConfig, typeKnown bool) errors.ValidationErrors {
	var errs errors.ValidationErrors
	if typeKnown && !wt.Valid() {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeInvalidField, model.FieldWidgetType,
			fmt.Sprintf("unknown widget type %q", wt)))
	}
	if cfg == nil {
		return errs
	}
	variant, err := cfg.Variant()
	if err != nil {
		return append(errs, errors.NewValidationError(errors.ErrorCodeWidgetConfig, model.FieldWidgetConfig, err.Error()))
	}
	if typeKnown && wt.Valid() && variant != wt {
		errs = append(errs, errors.NewValidationError(errors.ErrorCodeWidgetConfig, model.FieldWidgetConfig,
			fmt.Sprintf("widget config is for %s, region renders %s", variant, wt)))
	}
	return errs
}

func (v *Validator) checkContent(config map[string]any, widget *model.WidgetConfig, groupID string) errors.ValidationErrors {
	var errs errors.ValidationErrors
	errs = append(errs, v.checkText(model.FieldGroupID, groupID)...)
	errs = append(errs, v.checkConfig(model.FieldConfig, config)...)
	for _, f := range widget.Texts() {
		errs = append(errs, v.checkText(f.Name, f.Value)...)
	}
	return errs
}

func (v *Validator) checkText(field, value string) errors.ValidationErrors {
	if marker := v.scanner.Scan(value); marker != "" {
		return errors.ValidationErrors{dangerous(field, marker)}
	}
	return nil
}

// checkConfig walks the free-form bag; keys are scanned as well as values
func (v *Validator) checkConfig(path string, cfg map[string]any) errors.ValidationErrors {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs errors.ValidationErrors
	for _, k := range keys {
		field := path + "." + k
		if marker := v.scanner.ScanKey(k); marker != "" {
			errs = append(errs, dangerous(field, marker))
			continue
		}
		errs = append(errs, v.checkValue(field, cfg[k])...)
	}
	return errs
}

func (v *Validator) checkValue(field string, value any) errors.ValidationErrors {
	switch t := value.(type) {
	case string:
		return v.checkText(field, t)
	case map[string]any:
		return v.checkConfig(field, t)
	case []any:
		var errs errors.ValidationErrors
		for i, item := range t {
			errs = append(errs, v.checkValue(fmt.Sprintf("%s[%d]", field, i), item)...)
		}
		return errs
	}
	return nil
}

func dangerous(field, marker string) *errors.ValidationError {
	return errors.NewValidationError(errors.ErrorCodeDangerousContent, field,
		fmt.Sprintf("dangerous content (%s)", marker))
}
