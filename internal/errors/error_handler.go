package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	// Details lists individual validation failures
	Details ValidationErrors `json:"details,omitempty"`
	// Current is the stored state returned with a version conflict
	Current         json.RawMessage `json:"current,omitempty"`
	CurrentVersion  int64           `json:"current_version,omitempty"`
	ExpectedVersion int64           `json:"expected_version,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if _, ok := AsValidation(err); ok {
		return http.StatusBadRequest
	}
	if _, ok := AsVersionConflict(err); ok {
		return http.StatusConflict
	}
	if te, ok := AsTransport(err); ok {
		if te.StatusCode > 0 {
			return te.StatusCode
		}
		return http.StatusBadGateway
	}

	switch GetCode(err) {
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeAlreadyExists, ErrorCodeNotUndoable, ErrorCodeNothingToUndo, ErrorCodeInvalidState:
		return http.StatusConflict
	case ErrorCodeRetriesExhausted, ErrorCodeQueueOpFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError processes an error and writes an appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := HTTPStatus(err)
	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: GetCode(err),
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
	}

	if ve, ok := AsValidation(err); ok {
		resp.Details = ve
	}
	if vc, ok := AsVersionConflict(err); ok {
		resp.CurrentVersion = vc.CurrentVersion
		resp.ExpectedVersion = vc.ExpectedVersion
		if vc.Current != nil {
			if raw, mErr := json.Marshal(vc.Current); mErr == nil {
				resp.Current = raw
			}
		}
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	}

	h.write(w, statusCode, resp)
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.write(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

func (h *Handler) write(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(resp.ErrorCode)),
		zap.String("message", resp.Message),
		zap.String("request_id", resp.RequestID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
