// Package errors defines the structured error taxonomy shared by the layout
// services and the agent, and its mapping onto HTTP.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown        ErrorCode = "UNKNOWN"
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorCodeNetwork        ErrorCode = "NETWORK_ERROR"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrorCodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	ErrorCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrorCodeTenantRequired ErrorCode = "TENANT_REQUIRED"

	// Validation errors
	ErrorCodeValidation       ErrorCode = "VALIDATION_FAILED"
	ErrorCodeGridRowRange     ErrorCode = "GRID_ROW_OUT_OF_RANGE"
	ErrorCodeGridColRange     ErrorCode = "GRID_COL_OUT_OF_RANGE"
	ErrorCodeRowSpanRange     ErrorCode = "ROW_SPAN_OUT_OF_RANGE"
	ErrorCodeColSpanRange     ErrorCode = "COL_SPAN_OUT_OF_RANGE"
	ErrorCodeExceedsGrid      ErrorCode = "EXCEEDS_GRID_BOUNDS"
	ErrorCodeMinSize          ErrorCode = "MIN_SIZE_EXCEEDS_REGION"
	ErrorCodeDangerousContent ErrorCode = "DANGEROUS_CONTENT"
	ErrorCodeEmptyUpdate      ErrorCode = "EMPTY_UPDATE"
	ErrorCodeWidgetConfig     ErrorCode = "INVALID_WIDGET_CONFIG"
	ErrorCodeOverlap          ErrorCode = "REGION_OVERLAP"
	ErrorCodeInvalidField     ErrorCode = "INVALID_FIELD"

	// Concurrency errors
	ErrorCodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// Agent errors
	ErrorCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrorCodeQueueOpFailed    ErrorCode = "QUEUE_OPERATION_FAILED"
	ErrorCodeNotUndoable      ErrorCode = "NOT_UNDOABLE"
	ErrorCodeNothingToUndo    ErrorCode = "NOTHING_TO_UNDO"
	ErrorCodeInvalidState     ErrorCode = "INVALID_STATE"
)

var (
	// ErrNotFound is returned when a resource does not exist for the tenant
	ErrNotFound = stderrors.New("resource not found")
	// ErrAlreadyExists is returned when a create reuses an existing id
	ErrAlreadyExists = stderrors.New("resource already exists")
	// ErrReadOnly is returned when writing a built-in resource
	ErrReadOnly = stderrors.New("resource is read-only")
	// ErrNotUndoable is returned when the last bulk operation cannot be inverted
	ErrNotUndoable = stderrors.New("last bulk operation cannot be undone")
	// ErrNothingToUndo is returned when the bulk history is empty
	ErrNothingToUndo = stderrors.New("no bulk operation to undo")
)

// ValidationError is one geometry or content invariant violation
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(code ErrorCode, field, message string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: message}
}

// ValidationErrors collects every violation found in one candidate
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether any violation carries code
func (e ValidationErrors) Has(code ErrorCode) bool {
	for _, v := range e {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the codes in order
func (e ValidationErrors) Codes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(e))
	for _, v := range e {
		codes = append(codes, v.Code)
	}
	return codes
}

// ErrOrNil returns nil for an empty set so callers can return it directly
func (e ValidationErrors) ErrOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// VersionConflictError reports that the stored version no longer matches
// the expected one. Current holds the stored state when it is known.
type VersionConflictError struct {
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	ExpectedVersion int64  `json:"expected_version"`
	CurrentVersion  int64  `json:"current_version"`
	Current         any    `json:"current,omitempty"`
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, current %d",
		e.ResourceType, e.ResourceID, e.ExpectedVersion, e.CurrentVersion)
}

// NewVersionConflict creates a VersionConflictError
func NewVersionConflict(resourceType, resourceID string, expected, current int64, state any) *VersionConflictError {
	return &VersionConflictError{
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		ExpectedVersion: expected,
		CurrentVersion:  current,
		Current:         state,
	}
}

// TransportError is a failure signalled by the transport or storage tier.
// Recoverable is set by whoever produced the error; classifiers read the
// flag instead of parsing messages.
type TransportError struct {
	StatusCode  int
	Code        ErrorCode
	Message     string
	Recoverable bool
	Cause       error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "status %d: ", e.StatusCode)
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NetworkError wraps a failure that never produced a response
func NetworkError(message string, cause error) *TransportError {
	return &TransportError{Code: ErrorCodeNetwork, Message: message, Recoverable: true, Cause: cause}
}

// StatusError builds a TransportError from a response status. 408, 429 and
// every 5xx are recoverable.
func StatusError(statusCode int, code ErrorCode, message string) *TransportError {
	return &TransportError{
		StatusCode:  statusCode,
		Code:        code,
		Message:     message,
		Recoverable: RecoverableStatus(statusCode),
	}
}

// RecoverableStatus reports whether a response status is worth retrying
func RecoverableStatus(statusCode int) bool {
	return statusCode == 408 || statusCode == 429 || statusCode >= 500
}

// ExhaustedRetriesError is the terminal failure of a bounded retry loop.
// Its message is the last attempt's message.
type ExhaustedRetriesError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	return e.Err.Error()
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

// QueueOperationFailedError describes a queued operation that used up its
// retry budget.
type QueueOperationFailedError struct {
	OperationID string
	Retries     int
	LastError   string
}

func (e *QueueOperationFailedError) Error() string {
	return fmt.Sprintf("queued operation %s failed after %d attempts: %s", e.OperationID, e.Retries, e.LastError)
}

// InvalidStateError is returned when an action does not fit the current
// state of a state machine.
type InvalidStateError struct {
	State  string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Action, e.State)
}

// IsNotFound reports whether err means the resource does not exist
func IsNotFound(err error) bool {
	if stderrors.Is(err, ErrNotFound) {
		return true
	}
	var te *TransportError
	return stderrors.As(err, &te) && te.StatusCode == 404
}

// AsVersionConflict extracts a VersionConflictError
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	ok := stderrors.As(err, &vc)
	return vc, ok
}

// AsValidation extracts ValidationErrors, promoting a single ValidationError
func AsValidation(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if stderrors.As(err, &ve) {
		return ve, true
	}
	var single *ValidationError
	if stderrors.As(err, &single) {
		return ValidationErrors{single}, true
	}
	return nil, false
}

// AsTransport extracts a TransportError
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	ok := stderrors.As(err, &te)
	return te, ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}
	if ve, ok := AsValidation(err); ok {
		if len(ve) == 1 {
			return ve[0].Code
		}
		return ErrorCodeValidation
	}
	if _, ok := AsVersionConflict(err); ok {
		return ErrorCodeVersionConflict
	}
	if te, ok := AsTransport(err); ok {
		return te.Code
	}
	var ise *InvalidStateError
	var qf *QueueOperationFailedError
	switch {
	case stderrors.Is(err, ErrNotFound):
		return ErrorCodeNotFound
	case stderrors.Is(err, ErrAlreadyExists):
		return ErrorCodeAlreadyExists
	case stderrors.Is(err, ErrReadOnly):
		return ErrorCodeForbidden
	case stderrors.Is(err, ErrNotUndoable):
		return ErrorCodeNotUndoable
	case stderrors.Is(err, ErrNothingToUndo):
		return ErrorCodeNothingToUndo
	case stderrors.As(err, &ise):
		return ErrorCodeInvalidState
	case stderrors.As(err, &qf):
		return ErrorCodeQueueOpFailed
	}
	var ex *ExhaustedRetriesError
	if stderrors.As(err, &ex) {
		return ErrorCodeRetriesExhausted
	}
	return ErrorCodeInternalError
}
