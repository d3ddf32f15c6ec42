package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
)

// LayoutClient talks to layout-api over HTTP and implements store.Store.
// Failures come back as the structured error taxonomy: 409 version
// conflicts as *errors.VersionConflictError with the current state
// decoded, 400 validation failures as errors.ValidationErrors, and every
// other failure as *errors.TransportError with Recoverable set from the
// status (or true when no response arrived).
type LayoutClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewLayoutClient creates a new layout-api client
func NewLayoutClient(baseURL string, timeout time.Duration, logger *zap.Logger) *LayoutClient {
	return &LayoutClient{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *LayoutClient) WithHTTPClient(hc *http.Client) *LayoutClient {
	c.httpClient = hc
	return c
}

// Ping checks the service health endpoint
func (c *LayoutClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil, nil)
}

// Close is a no-op
func (c *LayoutClient) Close() {}

// GetLayout retrieves a layout
func (c *LayoutClient) GetLayout(ctx context.Context, tenantID, layoutID string) (*model.Layout, error) {
	var out model.Layout
	if err := c.do(ctx, http.MethodGet, layoutPath(layoutID), tenantID, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLayouts lists the tenant's layouts
func (c *LayoutClient) ListLayouts(ctx context.Context, tenantID string) ([]*model.Layout, error) {
	var out model.LayoutsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/layouts", tenantID, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Layouts, nil
}

// CreateLayout creates a layout
func (c *LayoutClient) CreateLayout(ctx context.Context, layout *model.Layout) (*model.Layout, error) {
	var out model.Layout
	if err := c.do(ctx, http.MethodPost, "/v1/layouts", layout.TenantID, layout, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateLayout patches a layout at expectedVersion
func (c *LayoutClient) UpdateLayout(ctx context.Context, tenantID, layoutID string, patch *model.LayoutPatch, expectedVersion int64) (*model.Layout, error) {
	var out model.Layout
	body := model.UpdateLayoutRequest{Patch: patch, ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPatch, layoutPath(layoutID), tenantID, body, &out, &model.Layout{}); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLayout deletes a layout and its regions
func (c *LayoutClient) DeleteLayout(ctx context.Context, tenantID, layoutID string, expectedVersion int64) error {
	return c.do(ctx, http.MethodDelete, withVersion(layoutPath(layoutID), expectedVersion), tenantID, nil, nil, &model.Layout{})
}

// GetRegion retrieves a region
func (c *LayoutClient) GetRegion(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error) {
	var out model.Region
	if err := c.do(ctx, http.MethodGet, regionPath(layoutID, regionID), tenantID, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRegions lists a layout's regions
func (c *LayoutClient) ListRegions(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error) {
	var out model.RegionsResponse
	if err := c.do(ctx, http.MethodGet, layoutPath(layoutID)+"/regions", tenantID, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Regions, nil
}

// CreateRegion creates a region
func (c *LayoutClient) CreateRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	var out model.Region
	if err := c.do(ctx, http.MethodPost, layoutPath(region.LayoutID)+"/regions", region.TenantID, region, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRegion patches a region at expectedVersion
func (c *LayoutClient) UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*model.Region, error) {
	var out model.Region
	body := model.UpdateRegionRequest{Patch: patch, ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPatch, regionPath(layoutID, regionID), tenantID, body, &out, &model.Region{}); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRegion deletes a region
func (c *LayoutClient) DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error {
	return c.do(ctx, http.MethodDelete, withVersion(regionPath(layoutID, regionID), expectedVersion), tenantID, nil, nil, &model.Region{})
}

// ReorderRegions sets display positions
func (c *LayoutClient) ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error) {
	var out model.RegionsResponse
	body := model.ReorderRegionsRequest{Positions: positions}
	if err := c.do(ctx, http.MethodPost, layoutPath(layoutID)+"/reorder", tenantID, body, &out, nil); err != nil {
		return nil, err
	}
	return out.Regions, nil
}

// GetTemplate retrieves a template
func (c *LayoutClient) GetTemplate(ctx context.Context, tenantID, templateID string) (*model.Template, error) {
	var out model.Template
	if err := c.do(ctx, http.MethodGet, templatePath(templateID), tenantID, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTemplates lists built-in and tenant templates
func (c *LayoutClient) ListTemplates(ctx context.Context, tenantID string) ([]*model.Template, error) {
	var out model.TemplatesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/templates", tenantID, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// CreateTemplate creates a template
func (c *LayoutClient) CreateTemplate(ctx context.Context, tmpl *model.Template) (*model.Template, error) {
	var out model.Template
	if err := c.do(ctx, http.MethodPost, "/v1/templates", tmpl.TenantID, tmpl, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTemplate patches a template at expectedVersion
func (c *LayoutClient) UpdateTemplate(ctx context.Context, tenantID, templateID string, patch *model.TemplatePatch, expectedVersion int64) (*model.Template, error) {
	var out model.Template
	body := model.UpdateTemplateRequest{Patch: patch, ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPatch, templatePath(templateID), tenantID, body, &out, &model.Template{}); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTemplate deletes a template
func (c *LayoutClient) DeleteTemplate(ctx context.Context, tenantID, templateID string, expectedVersion int64) error {
	return c.do(ctx, http.MethodDelete, withVersion(templatePath(templateID), expectedVersion), tenantID, nil, nil, &model.Template{})
}

// InstantiateTemplate creates a new layout seeded from a template
func (c *LayoutClient) InstantiateTemplate(ctx context.Context, tenantID, templateID, name string) (*model.LayoutWithRegions, error) {
	var out model.LayoutWithRegions
	body := model.InstantiateTemplateRequest{Name: name}
	if err := c.do(ctx, http.MethodPost, templatePath(templateID)+"/instantiate", tenantID, body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request. conflictState, when set, receives the current
// stored state carried by a 409 response.
func (c *LayoutClient) do(ctx context.Context, method, path, tenantID string, body, out, conflictState any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("X-Request-ID", requestID)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the caller giving up is not a transport failure
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		c.logger.Debug("Layout API unreachable",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return errors.NetworkError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp, conflictState)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NetworkError("failed to decode response", err)
	}
	return nil
}

func (c *LayoutClient) decodeError(resp *http.Response, conflictState any) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var body errors.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.ErrorCode == "" {
		return errors.StatusError(resp.StatusCode, errors.ErrorCodeUnknown, http.StatusText(resp.StatusCode))
	}

	if resp.StatusCode == http.StatusConflict && body.ErrorCode == errors.ErrorCodeVersionConflict {
		vc := &errors.VersionConflictError{
			ExpectedVersion: body.ExpectedVersion,
			CurrentVersion:  body.CurrentVersion,
		}
		if conflictState != nil && len(body.Current) > 0 {
			if err := json.Unmarshal(body.Current, conflictState); err == nil {
				vc.Current = conflictState
			}
		}
		return vc
	}
	if resp.StatusCode == http.StatusBadRequest && len(body.Details) > 0 {
		return body.Details
	}
	return errors.StatusError(resp.StatusCode, body.ErrorCode, body.Message)
}

func layoutPath(layoutID string) string {
	return "/v1/layouts/" + url.PathEscape(layoutID)
}

func regionPath(layoutID, regionID string) string {
	return layoutPath(layoutID) + "/regions/" + url.PathEscape(regionID)
}

func templatePath(templateID string) string {
	return "/v1/templates/" + url.PathEscape(templateID)
}

func withVersion(path string, expectedVersion int64) string {
	if expectedVersion == 0 {
		return path
	}
	return path + "?expected_version=" + strconv.FormatInt(expectedVersion, 10)
}
