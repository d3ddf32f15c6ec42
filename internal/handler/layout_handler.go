package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/middleware"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/service"
)

// LayoutHandlers serves the layout-api storage tier.
type LayoutHandlers struct {
	layouts      *service.LayoutService
	errorHandler *errors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewLayoutHandlers creates a new LayoutHandlers instance.
func NewLayoutHandlers(
	layouts *service.LayoutService,
	errorHandler *errors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *LayoutHandlers {
	return &LayoutHandlers{
		layouts:      layouts,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

func (h *LayoutHandlers) context(r *http.Request) (context.Context, context.CancelFunc, string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	return ctx, cancel, middleware.TenantFromContext(r.Context())
}

// ListLayouts handles GET /v1/layouts requests.
func (h *LayoutHandlers) ListLayouts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	layouts, err := h.layouts.ListLayouts(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, model.LayoutsResponse{Layouts: layouts})
}

// CreateLayout handles POST /v1/layouts requests.
func (h *LayoutHandlers) CreateLayout(w http.ResponseWriter, r *http.Request) {
	var layout model.Layout
	if err := decodeBody(r, &layout); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	layout.TenantID = tenantID
	created, err := h.layouts.CreateLayout(ctx, &layout)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, created)
}

// GetLayout handles GET /v1/layouts/{layout_id} requests.
func (h *LayoutHandlers) GetLayout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	layout, err := h.layouts.GetLayout(ctx, tenantID, pathVar(r, "layout_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, layout)
}

// UpdateLayout handles PATCH /v1/layouts/{layout_id} requests.
func (h *LayoutHandlers) UpdateLayout(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateLayoutRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	layout, err := h.layouts.UpdateLayout(ctx, tenantID, pathVar(r, "layout_id"), req.Patch, req.ExpectedVersion)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, layout)
}

// DeleteLayout handles DELETE /v1/layouts/{layout_id} requests. The
// layout's regions are deleted with it.
func (h *LayoutHandlers) DeleteLayout(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	if err := h.layouts.DeleteLayout(ctx, tenantID, pathVar(r, "layout_id"), version); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRegions handles GET /v1/layouts/{layout_id}/regions requests.
func (h *LayoutHandlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	regions, err := h.layouts.ListRegions(ctx, tenantID, pathVar(r, "layout_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, model.RegionsResponse{Regions: regions})
}

// CreateRegion handles POST /v1/layouts/{layout_id}/regions requests.
func (h *LayoutHandlers) CreateRegion(w http.ResponseWriter, r *http.Request) {
	var region model.Region
	if err := decodeBody(r, &region); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	region.TenantID = tenantID
	region.LayoutID = pathVar(r, "layout_id")
	created, err := h.layouts.CreateRegion(ctx, &region)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, created)
}

// GetRegion handles GET /v1/layouts/{layout_id}/regions/{region_id} requests.
func (h *LayoutHandlers) GetRegion(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	region, err := h.layouts.GetRegion(ctx, tenantID, pathVar(r, "layout_id"), pathVar(r, "region_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, region)
}

// UpdateRegion handles PATCH /v1/layouts/{layout_id}/regions/{region_id}
// requests. A stale expected_version is answered with 409 and the stored
// region.
func (h *LayoutHandlers) UpdateRegion(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRegionRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	region, err := h.layouts.UpdateRegion(ctx, tenantID, pathVar(r, "layout_id"), pathVar(r, "region_id"), req.Patch, req.ExpectedVersion)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, region)
}

// DeleteRegion handles DELETE /v1/layouts/{layout_id}/regions/{region_id}
// requests.
func (h *LayoutHandlers) DeleteRegion(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	if err := h.layouts.DeleteRegion(ctx, tenantID, pathVar(r, "layout_id"), pathVar(r, "region_id"), version); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderRegions handles POST /v1/layouts/{layout_id}/reorder requests.
func (h *LayoutHandlers) ReorderRegions(w http.ResponseWriter, r *http.Request) {
	var req model.ReorderRegionsRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	regions, err := h.layouts.ReorderRegions(ctx, tenantID, pathVar(r, "layout_id"), req.Positions)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, model.RegionsResponse{Regions: regions})
}

// ListTemplates handles GET /v1/templates requests.
func (h *LayoutHandlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	templates, err := h.layouts.ListTemplates(ctx, tenantID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, model.TemplatesResponse{Templates: templates})
}

// CreateTemplate handles POST /v1/templates requests.
func (h *LayoutHandlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl model.Template
	if err := decodeBody(r, &tmpl); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	tmpl.TenantID = tenantID
	created, err := h.layouts.CreateTemplate(ctx, &tmpl)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, created)
}

// GetTemplate handles GET /v1/templates/{template_id} requests.
func (h *LayoutHandlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	tmpl, err := h.layouts.GetTemplate(ctx, tenantID, pathVar(r, "template_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, tmpl)
}

// UpdateTemplate handles PATCH /v1/templates/{template_id} requests.
func (h *LayoutHandlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateTemplateRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	tmpl, err := h.layouts.UpdateTemplate(ctx, tenantID, pathVar(r, "template_id"), req.Patch, req.ExpectedVersion)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, tmpl)
}

// DeleteTemplate handles DELETE /v1/templates/{template_id} requests.
func (h *LayoutHandlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	if err := h.layouts.DeleteTemplate(ctx, tenantID, pathVar(r, "template_id"), version); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InstantiateTemplate handles POST /v1/templates/{template_id}/instantiate
// requests.
func (h *LayoutHandlers) InstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.InstantiateTemplateRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel, tenantID := h.context(r)
	defer cancel()

	out, err := h.layouts.InstantiateTemplate(ctx, tenantID, pathVar(r, "template_id"), req.Name)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, out)
}
