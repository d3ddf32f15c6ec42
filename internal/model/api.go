package model

// Request and response bodies of the layout HTTP API

type UpdateRegionRequest struct {
	Patch           *RegionPatch `json:"patch"`
	ExpectedVersion int64        `json:"expected_version"`
}

type ReorderRegionsRequest struct {
	Positions []RegionPosition `json:"positions"`
}

type UpdateLayoutRequest struct {
	Patch           *LayoutPatch `json:"patch"`
	ExpectedVersion int64        `json:"expected_version"`
}

type UpdateTemplateRequest struct {
	Patch           *TemplatePatch `json:"patch"`
	ExpectedVersion int64          `json:"expected_version"`
}

type InstantiateTemplateRequest struct {
	Name string `json:"name"`
}

type RegionsResponse struct {
	Regions []*Region `json:"regions"`
}

type LayoutsResponse struct {
	Layouts []*Layout `json:"layouts"`
}

type TemplatesResponse struct {
	Templates []*Template `json:"templates"`
}

// LayoutWithRegions is a layout together with its regions
type LayoutWithRegions struct {
	Layout  *Layout   `json:"layout"`
	Regions []*Region `json:"regions"`
}
