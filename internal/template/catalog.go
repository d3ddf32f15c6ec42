// Package template loads the catalog of built-in layout templates.
package template

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/validation"
)

//go:embed builtin.yaml
var builtinCatalog []byte

type catalogFile struct {
	Templates []*model.Template `yaml:"templates"`
}

// Catalog is a read-only set of built-in templates shared by every tenant
type Catalog struct {
	byID map[string]*model.Template
	ids  []string
}

// LoadCatalog reads the catalog at path, or the embedded default catalog
// when path is empty. Every template is validated; a catalog with an
// invalid template is rejected as a whole.
func LoadCatalog(path string, validator *validation.Validator, logger *zap.Logger) (*Catalog, error) {
	data := builtinCatalog
	source := "embedded"
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template catalog: %w", err)
		}
		data = raw
		source = path
	}

	catalog, err := Parse(data, validator)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded template catalog",
		zap.String("source", source),
		zap.Int("templates", len(catalog.ids)))
	return catalog, nil
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte, validator *validation.Validator) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]*model.Template, len(file.Templates))}
	for i, t := range file.Templates {
		if t == nil || t.ID == "" {
			return nil, fmt.Errorf("template %d: id is required", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("template %s: duplicate id", t.ID)
		}
		t.TenantID = ""
		if err := validator.ValidateTemplate(t); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.ID, err)
		}
		t.BuiltIn = true
		t.Version = 1
		c.byID[t.ID] = t
		c.ids = append(c.ids, t.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Get returns a copy of a built-in template
func (c *Catalog) Get(id string) (*model.Template, bool) {
	t, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return clone(t), true
}

// Contains reports whether id names a built-in template
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// List returns copies of every built-in template ordered by id
func (c *Catalog) List() []*model.Template {
	out := make([]*model.Template, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, clone(c.byID[id]))
	}
	return out
}

func clone(t *model.Template) *model.Template {
	out := *t
	out.Regions = make([]model.TemplateRegion, len(t.Regions))
	for i, tr := range t.Regions {
		tr.WidgetConfig = tr.WidgetConfig.Clone()
		tr.Config = model.CloneConfig(tr.Config)
		out.Regions[i] = tr
	}
	return &out
}
