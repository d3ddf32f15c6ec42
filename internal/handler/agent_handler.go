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

// ResolveNegotiationRequest is the body of a resolution choice
type ResolveNegotiationRequest struct {
	Mode service.ResolutionMode `json:"mode"`
}

// QueueResponse is the queue summary with its operations
type QueueResponse struct {
	Status     model.QueueStatus        `json:"status"`
	Operations []*model.QueuedOperation `json:"operations"`
}

// CountResponse reports how many entries an action touched
type CountResponse struct {
	Count int               `json:"count"`
	Queue model.QueueStatus `json:"queue"`
}

// NegotiationsResponse lists open negotiations
type NegotiationsResponse struct {
	Negotiations []service.NegotiationView `json:"negotiations"`
}

// BulkHistoryResponse lists undoable bulk actions, oldest first
type BulkHistoryResponse struct {
	History []*model.BulkOperation `json:"history"`
}

// AgentHandlers serves the agent's local API for the UI layer.
type AgentHandlers struct {
	edits        *service.EditService
	queue        *service.OfflineQueue
	negotiations *service.NegotiationRegistry
	bulk         *service.BulkCoordinator
	errorHandler *errors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewAgentHandlers creates a new AgentHandlers instance. The timeout
// bounds one request, including direct retries before an edit is queued.
func NewAgentHandlers(
	edits *service.EditService,
	queue *service.OfflineQueue,
	negotiations *service.NegotiationRegistry,
	bulk *service.BulkCoordinator,
	errorHandler *errors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *AgentHandlers {
	return &AgentHandlers{
		edits:        edits,
		queue:        queue,
		negotiations: negotiations,
		bulk:         bulk,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

func (h *AgentHandlers) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

// writeEdit maps an edit outcome to a status: 200 (201 for creates) when
// applied, 202 when queued, 409 when a negotiation was opened.
func (h *AgentHandlers) writeEdit(w http.ResponseWriter, res *service.EditResult, applied int) {
	status := applied
	switch res.Outcome {
	case service.OutcomeQueued:
		status = http.StatusAccepted
	case service.OutcomeConflict:
		status = http.StatusConflict
	}
	writeJSONResponse(w, h.logger, status, res)
}

// LoadLayout handles GET /v1/layouts/{layout_id}/regions requests.
func (h *AgentHandlers) LoadLayout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	regions, err := h.edits.LoadLayout(ctx, middleware.TenantFromContext(r.Context()), pathVar(r, "layout_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, model.RegionsResponse{Regions: regions})
}

// CreateRegion handles POST /v1/layouts/{layout_id}/regions requests.
func (h *AgentHandlers) CreateRegion(w http.ResponseWriter, r *http.Request) {
	var region model.Region
	if err := decodeBody(r, &region); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	region.TenantID = middleware.TenantFromContext(r.Context())
	region.LayoutID = pathVar(r, "layout_id")
	res, err := h.edits.CreateRegion(ctx, &region)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeEdit(w, res, http.StatusCreated)
}

// UpdateRegion handles PATCH /v1/layouts/{layout_id}/regions/{region_id}
// requests. expected_version 0 means the last version this agent observed.
func (h *AgentHandlers) UpdateRegion(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRegionRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.edits.UpdateRegion(ctx, middleware.TenantFromContext(r.Context()),
		pathVar(r, "layout_id"), pathVar(r, "region_id"), req.Patch, req.ExpectedVersion)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeEdit(w, res, http.StatusOK)
}

// DeleteRegion handles DELETE /v1/layouts/{layout_id}/regions/{region_id}
// requests.
func (h *AgentHandlers) DeleteRegion(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.edits.DeleteRegion(ctx, middleware.TenantFromContext(r.Context()),
		pathVar(r, "layout_id"), pathVar(r, "region_id"), version)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeEdit(w, res, http.StatusOK)
}

// ReorderRegions handles POST /v1/layouts/{layout_id}/reorder requests.
func (h *AgentHandlers) ReorderRegions(w http.ResponseWriter, r *http.Request) {
	var req model.ReorderRegionsRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.edits.ReorderRegions(ctx, middleware.TenantFromContext(r.Context()), pathVar(r, "layout_id"), req.Positions)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeEdit(w, res, http.StatusOK)
}

// GetQueue handles GET /v1/queue requests.
func (h *AgentHandlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.logger, http.StatusOK, QueueResponse{
		Status:     h.queue.Status(),
		Operations: h.queue.List(),
	})
}

// GetQueueStatus handles GET /v1/queue/status requests.
func (h *AgentHandlers) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.logger, http.StatusOK, h.queue.Status())
}

// GetOperation handles GET /v1/queue/operations/{operation_id} requests.
func (h *AgentHandlers) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.queue.Get(pathVar(r, "operation_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, op)
}

// RemoveOperation handles DELETE /v1/queue/operations/{operation_id}
// requests.
func (h *AgentHandlers) RemoveOperation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.queue.RemoveOperation(ctx, pathVar(r, "operation_id")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncQueue handles POST /v1/queue/sync requests. It runs one pass and
// returns the resulting status.
func (h *AgentHandlers) SyncQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	if err := h.queue.Sync(ctx); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, h.queue.Status())
}

// RetryFailed handles POST /v1/queue/retry-failed requests.
func (h *AgentHandlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	n, err := h.queue.RetryFailed(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, CountResponse{Count: n, Queue: h.queue.Status()})
}

// ClearCompleted handles POST /v1/queue/clear-completed requests.
func (h *AgentHandlers) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	n, err := h.queue.ClearCompleted(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, CountResponse{Count: n, Queue: h.queue.Status()})
}

// ListNegotiations handles GET /v1/negotiations requests.
func (h *AgentHandlers) ListNegotiations(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.logger, http.StatusOK, NegotiationsResponse{Negotiations: h.negotiations.List()})
}

// GetNegotiation handles GET /v1/negotiations/{negotiation_id} requests.
func (h *AgentHandlers) GetNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := h.negotiations.Get(pathVar(r, "negotiation_id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, service.NegotiationView{ID: n.ID(), State: n.State(), Conflict: n.Conflict()})
}

// ResolveNegotiation handles POST /v1/negotiations/{negotiation_id}/resolve
// requests. A fresh conflict during resubmission is answered with 409 and
// the negotiation stays open.
func (h *AgentHandlers) ResolveNegotiation(w http.ResponseWriter, r *http.Request) {
	var req ResolveNegotiationRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	outcome, err := h.negotiations.Resolve(ctx, pathVar(r, "negotiation_id"), req.Mode)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome.State == service.StatePresenting {
		status = http.StatusConflict
	}
	writeJSONResponse(w, h.logger, status, outcome)
}

// CancelNegotiation handles POST /v1/negotiations/{negotiation_id}/cancel
// requests.
func (h *AgentHandlers) CancelNegotiation(w http.ResponseWriter, r *http.Request) {
	if err := h.negotiations.Cancel(pathVar(r, "negotiation_id")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyBulk handles POST /v1/bulk requests.
func (h *AgentHandlers) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	var req service.BulkRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	req.TenantID = middleware.TenantFromContext(r.Context())
	result, err := h.bulk.Apply(ctx, &req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, result)
}

// UndoBulk handles POST /v1/bulk/undo requests.
func (h *AgentHandlers) UndoBulk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	result, err := h.bulk.Undo(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, result)
}

// BulkHistory handles GET /v1/bulk/history requests.
func (h *AgentHandlers) BulkHistory(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.logger, http.StatusOK, BulkHistoryResponse{History: h.bulk.History()})
}
