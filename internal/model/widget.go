package model

import "fmt"

// WidgetType identifies what a region renders
type WidgetType string

const (
	WidgetKPI           WidgetType = "kpi"
	WidgetChart         WidgetType = "chart"
	WidgetJobList       WidgetType = "job_list"
	WidgetTechnicianMap WidgetType = "technician_map"
	WidgetNotes         WidgetType = "notes"
)

// Valid reports whether t is a known widget type
func (t WidgetType) Valid() bool {
	switch t {
	case WidgetKPI, WidgetChart, WidgetJobList, WidgetTechnicianMap, WidgetNotes:
		return true
	}
	return false
}

// WidgetConfig is a closed union of per-widget settings. Exactly one
// variant is set, and it must match the region's WidgetType.
type WidgetConfig struct {
	KPI           *KPIConfig           `json:"kpi,omitempty" yaml:"kpi,omitempty"`
	Chart         *ChartConfig         `json:"chart,omitempty" yaml:"chart,omitempty"`
	JobList       *JobListConfig       `json:"job_list,omitempty" yaml:"job_list,omitempty"`
	TechnicianMap *TechnicianMapConfig `json:"technician_map,omitempty" yaml:"technician_map,omitempty"`
	Notes         *NotesConfig         `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type KPIConfig struct {
	Metric string `json:"metric" yaml:"metric"`
	Label  string `json:"label" yaml:"label"`
	Period string `json:"period,omitempty" yaml:"period,omitempty"`
}

type ChartConfig struct {
	Title  string   `json:"title" yaml:"title"`
	Kind   string   `json:"kind" yaml:"kind"` // line, bar or pie
	Series []string `json:"series,omitempty" yaml:"series,omitempty"`
	Period string   `json:"period,omitempty" yaml:"period,omitempty"`
}

type JobListConfig struct {
	Title    string   `json:"title" yaml:"title"`
	Statuses []string `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Limit    int      `json:"limit,omitempty" yaml:"limit,omitempty"`
}

type TechnicianMapConfig struct {
	Title          string `json:"title" yaml:"title"`
	ShowRoutes     bool   `json:"show_routes" yaml:"show_routes"`
	RefreshSeconds int    `json:"refresh_seconds,omitempty" yaml:"refresh_seconds,omitempty"`
}

type NotesConfig struct {
	Body string `json:"body" yaml:"body"`
}

// TextField is a named free-text value inside a widget config
type TextField struct {
	Name  string
	Value string
}

// Variant returns the type of the single set variant. It errors when no
// variant or more than one is set.
func (c *WidgetConfig) Variant() (WidgetType, error) {
	if c == nil {
		return "", fmt.Errorf("widget config is empty")
	}
	var set []WidgetType
	if c.KPI != nil {
		set = append(set, WidgetKPI)
	}
	if c.Chart != nil {
		set = append(set, WidgetChart)
	}
	if c.JobList != nil {
		set = append(set, WidgetJobList)
	}
	if c.TechnicianMap != nil {
		set = append(set, WidgetTechnicianMap)
	}
	if c.Notes != nil {
		set = append(set, WidgetNotes)
	}
	switch len(set) {
	case 0:
		return "", fmt.Errorf("widget config is empty")
	case 1:
		return set[0], nil
	default:
		return "", fmt.Errorf("widget config sets %d variants", len(set))
	}
}

// Texts returns every free-text value the config carries
func (c *WidgetConfig) Texts() []TextField {
	if c == nil {
		return nil
	}
	var out []TextField
	add := func(name, value string) {
		if value != "" {
			out = append(out, TextField{Name: name, Value: value})
		}
	}
	if c.KPI != nil {
		add("widget_config.kpi.metric", c.KPI.Metric)
		add("widget_config.kpi.label", c.KPI.Label)
		add("widget_config.kpi.period", c.KPI.Period)
	}
	if c.Chart != nil {
		add("widget_config.chart.title", c.Chart.Title)
		add("widget_config.chart.kind", c.Chart.Kind)
		add("widget_config.chart.period", c.Chart.Period)
		for i, s := range c.Chart.Series {
			add(fmt.Sprintf("widget_config.chart.series[%d]", i), s)
		}
	}
	if c.JobList != nil {
		add("widget_config.job_list.title", c.JobList.Title)
		for i, s := range c.JobList.Statuses {
			add(fmt.Sprintf("widget_config.job_list.statuses[%d]", i), s)
		}
	}
	if c.TechnicianMap != nil {
		add("widget_config.technician_map.title", c.TechnicianMap.Title)
	}
	if c.Notes != nil {
		add("widget_config.notes.body", c.Notes.Body)
	}
	return out
}

// Clone deep-copies the config
func (c *WidgetConfig) Clone() *WidgetConfig {
	if c == nil {
		return nil
	}
	out := &WidgetConfig{}
	if c.KPI != nil {
		v := *c.KPI
		out.KPI = &v
	}
	if c.Chart != nil {
		v := *c.Chart
		v.Series = append([]string(nil), c.Chart.Series...)
		out.Chart = &v
	}
	if c.JobList != nil {
		v := *c.JobList
		v.Statuses = append([]string(nil), c.JobList.Statuses...)
		out.JobList = &v
	}
	if c.TechnicianMap != nil {
		v := *c.TechnicianMap
		out.TechnicianMap = &v
	}
	if c.Notes != nil {
		v := *c.Notes
		out.Notes = &v
	}
	return out
}
