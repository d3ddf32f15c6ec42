package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/validation"
)

func TestLoadCatalog_Embedded(t *testing.T) {
	c, err := LoadCatalog("", validation.NewValidator(), zap.NewNop())
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "builtin-dispatch", list[0].ID, "ordered by id")

	for _, tmpl := range list {
		assert.True(t, tmpl.BuiltIn)
		assert.Equal(t, int64(1), tmpl.Version)
		assert.NotEmpty(t, tmpl.Regions)
	}

	ops, ok := c.Get("builtin-operations")
	require.True(t, ok)
	require.Len(t, ops.Regions, 5)
	assert.Equal(t, model.WidgetTechnicianMap, ops.Regions[3].WidgetType)
	assert.True(t, ops.Regions[3].WidgetConfig.TechnicianMap.ShowRoutes)
}

func TestCatalog_GetReturnsCopies(t *testing.T) {
	c, err := LoadCatalog("", validation.NewValidator(), zap.NewNop())
	require.NoError(t, err)

	first, _ := c.Get("builtin-sales")
	first.Name = "changed"
	first.Regions[0].WidgetConfig.KPI.Label = "changed"

	second, _ := c.Get("builtin-sales")
	assert.Equal(t, "Sales summary", second.Name)
	assert.Equal(t, "New contracts", second.Regions[0].WidgetConfig.KPI.Label)

	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.False(t, c.Contains("missing"))
	assert.True(t, c.Contains("builtin-sales"))
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: single
    name: Single note
    regions:
      - grid_row: 0
        grid_col: 0
        row_span: 2
        col_span: 12
        widget_type: notes
        widget_config:
          notes:
            body: hello
`), 0o600))

	c, err := LoadCatalog(path, validation.NewValidator(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, c.List(), 1)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", `
templates:
  - name: no id
    regions: []
`},
		{"duplicate id", `
templates:
  - id: a
    name: A
  - id: a
    name: B
`},
		{"overlapping placements", `
templates:
  - id: a
    name: A
    regions:
      - {grid_row: 0, grid_col: 0, row_span: 2, col_span: 6, widget_type: notes}
      - {grid_row: 1, grid_col: 3, row_span: 2, col_span: 6, widget_type: notes}
`},
		{"not yaml", "templates: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), validation.NewValidator())
			assert.Error(t, err)
		})
	}
}

func TestParse_ValidationErrorsAreWrapped(t *testing.T) {
	_, err := Parse([]byte(`
templates:
  - id: wide
    name: Too wide
    regions:
      - {grid_row: 0, grid_col: 8, row_span: 1, col_span: 6, widget_type: notes}
`), validation.NewValidator())

	ve, ok := errors.AsValidation(err)
	require.True(t, ok)
	assert.True(t, ve.Has(errors.ErrorCodeExceedsGrid))
}
