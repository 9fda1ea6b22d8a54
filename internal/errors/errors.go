// Package errors defines the orchestrator's error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents caller errors that are never retried
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryBilling represents credit and ledger errors
	CategoryBilling ErrorCategory = "billing"
	// CategoryBackend represents generation backend errors
	CategoryBackend ErrorCategory = "backend"
	// CategorySystem represents internal errors
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents storage errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryNotFound represents unknown or expired resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents invalid state transitions
	CategoryConflict ErrorCategory = "conflict"
	// CategoryAuthorization represents role checks
	CategoryAuthorization ErrorCategory = "authorization"
)

// Error codes. These are persisted as a failed job's failure code.
const (
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInsufficientCredits   = "INSUFFICIENT_CREDITS"
	CodeInsufficientBalance   = "INSUFFICIENT_BALANCE"
	CodeAlreadyDebited        = "ALREADY_DEBITED"
	CodeTransientBackendError = "TRANSIENT_BACKEND_ERROR"
	CodePermanentBackendError = "PERMANENT_BACKEND_ERROR"
	CodeTimeout               = "TIMEOUT"
	CodeCancelled             = "CANCELLED"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeForbidden             = "FORBIDDEN"
	CodeInternalError         = "INTERNAL_ERROR"
	CodeDatabaseError         = "DATABASE_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// WithCause sets the underlying cause and returns e
func (e *CategorizedError) WithCause(cause error) *CategorizedError {
	e.Cause = cause
	return e
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Caller errors

// NewInvalidPayloadError reports a payload that failed its handler's schema check
func NewInvalidPayloadError(jobType types.JobType, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidPayload,
		Message:    fmt.Sprintf("invalid %s payload: %s", jobType, reason),
		Details: map[string]interface{}{
			"type":   string(jobType),
			"reason": reason,
		},
	}
}

// NewInvalidRequestError reports a malformed request outside any payload
func NewInvalidRequestError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidRequest,
		Message:    message,
	}
}

// NewInsufficientCreditsError is returned by admission; no job is created
func NewInsufficientCreditsError(accountID string, required, available int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBilling,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeInsufficientCredits,
		Message:    fmt.Sprintf("insufficient credits: %d required, %d available", required, available),
		Details: map[string]interface{}{
			"accountId": accountID,
			"required":  required,
			"available": available,
		},
	}
}

// NewInsufficientBalanceError is returned by the authoritative debit
func NewInsufficientBalanceError(accountID string, required, available int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBilling,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeInsufficientBalance,
		Message:    fmt.Sprintf("insufficient balance at debit: %d required, %d available", required, available),
		Details: map[string]interface{}{
			"accountId": accountID,
			"required":  required,
			"available": available,
		},
	}
}

// NewAlreadyDebitedError reports a second debit attempt for the same job
func NewAlreadyDebitedError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBilling,
		StatusCode: http.StatusConflict,
		Code:       CodeAlreadyDebited,
		Message:    fmt.Sprintf("job already debited: %s", jobID),
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConflict,
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       CodeForbidden,
		Message:    message,
	}
}

// Backend errors

// NewTransientBackendError wraps a retryable generation backend failure
func NewTransientBackendError(backend string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBackend,
		StatusCode: http.StatusBadGateway,
		Code:       CodeTransientBackendError,
		Message:    fmt.Sprintf("generation backend unavailable: %s", backend),
		Cause:      cause,
		Details: map[string]interface{}{
			"backend": backend,
		},
	}
}

// NewPermanentBackendError wraps a generation failure that must not be retried
func NewPermanentBackendError(backend string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBackend,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodePermanentBackendError,
		Message:    fmt.Sprintf("generation rejected by backend: %s", backend),
		Cause:      cause,
		Details: map[string]interface{}{
			"backend": backend,
		},
	}
}

// NewTimeoutError reports a handler that exceeded its time budget
func NewTimeoutError(jobType types.JobType, limit fmt.Stringer) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBackend,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("%s handler exceeded %s", jobType, limit),
		Details: map[string]interface{}{
			"type": string(jobType),
		},
	}
}

// NewCancelledError reports a job stopped at a cancellation checkpoint
func NewCancelledError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusConflict,
		Code:       CodeCancelled,
		Message:    fmt.Sprintf("job cancelled: %s", jobID),
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// System errors

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error, looking through wrapping
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// Code returns the taxonomy code of err
func Code(err error) string {
	if catErr := Categorize(err); catErr != nil {
		return catErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given taxonomy code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsPermanent reports whether a failed job must not be retried.
// Unknown errors are treated as transient.
func IsPermanent(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}

	switch catErr.Code {
	case CodePermanentBackendError, CodeInvalidPayload, CodeCancelled:
		return true
	default:
		return false
	}
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
