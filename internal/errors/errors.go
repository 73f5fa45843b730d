// Package errors provides custom error types for the planning API.
// All service-layer errors should use AppError to ensure consistent,
// secure error responses that never leak internal details to clients.
package errors

import "net/http"

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
// Fields carries field-keyed validation messages; the key
// "non_field_errors" is used for errors that span several fields.
type AppError struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Fields     map[string][]string `json:"fields,omitempty"`
	StatusCode int                 `json:"-"`
	Internal   error               `json:"-"`
}

// NonFieldErrors is the Fields key for errors not tied to a single field.
const NonFieldErrors = "non_field_errors"

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// WithFields creates a new AppError with a custom message and field errors.
func WithFields(sentinel *AppError, message string, fields map[string][]string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		Fields:     fields,
		StatusCode: sentinel.StatusCode,
	}
}

// Authentication & authorization errors.
var (
	ErrUnauthorized       = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrInvalidCredentials = &AppError{Code: "INVALID_CREDENTIALS", Message: "Invalid username/email or password", StatusCode: http.StatusUnauthorized}
	ErrTokenRevoked       = &AppError{Code: "TOKEN_REVOKED", Message: "Token has been revoked", StatusCode: http.StatusUnauthorized}
	ErrForbidden          = &AppError{Code: "FORBIDDEN", Message: "Insufficient permissions", StatusCode: http.StatusForbidden}
	ErrAccountInactive    = &AppError{Code: "ACCOUNT_INACTIVE", Message: "User account is disabled", StatusCode: http.StatusForbidden}
	ErrRateLimited        = &AppError{Code: "RATE_LIMITED", Message: "Too many requests, please try again later", StatusCode: http.StatusTooManyRequests}
)

// General errors.
var (
	ErrInvalidInput           = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrNotFound               = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrConcurrentModification = &AppError{Code: "CONCURRENT_MODIFICATION", Message: "The record was modified by another request, reload and retry", StatusCode: http.StatusConflict}
	ErrPayloadTooLarge        = &AppError{Code: "PAYLOAD_TOO_LARGE", Message: "Request body too large", StatusCode: http.StatusRequestEntityTooLarge}
	ErrInternalServer         = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// User errors.
var (
	ErrUserNotFound      = &AppError{Code: "USER_NOT_FOUND", Message: "User not found", StatusCode: http.StatusNotFound}
	ErrDuplicateUsername = &AppError{Code: "DUPLICATE_USERNAME", Message: "A user with this username already exists", StatusCode: http.StatusBadRequest}
	ErrDuplicateEmail    = &AppError{Code: "DUPLICATE_EMAIL", Message: "A user with this email already exists", StatusCode: http.StatusBadRequest}
)

// Unit errors.
var (
	ErrUnitNotFound        = &AppError{Code: "UNIT_NOT_FOUND", Message: "Unit not found", StatusCode: http.StatusNotFound}
	ErrDuplicateUnitName   = &AppError{Code: "DUPLICATE_UNIT_NAME", Message: "A unit with this name already exists", StatusCode: http.StatusBadRequest}
	ErrUnitHasDependencies = &AppError{Code: "UNIT_HAS_DEPENDENCIES", Message: "Cannot delete unit due to existing dependencies", StatusCode: http.StatusBadRequest}
	ErrUnitCycle           = &AppError{Code: "UNIT_CYCLE", Message: "A unit cannot be placed under itself or one of its descendants", StatusCode: http.StatusBadRequest}
)

// Indicator errors.
var (
	ErrIndicatorNotFound      = &AppError{Code: "INDICATOR_NOT_FOUND", Message: "Indicator not found", StatusCode: http.StatusNotFound}
	ErrDuplicateIndicatorCode = &AppError{Code: "DUPLICATE_INDICATOR_CODE", Message: "An indicator with this code already exists for this unit", StatusCode: http.StatusBadRequest}
	ErrIndicatorInUse         = &AppError{Code: "INDICATOR_IN_USE", Message: "Indicator is referenced by plan targets or report entries", StatusCode: http.StatusBadRequest}
	ErrIndicatorInactive      = &AppError{Code: "INDICATOR_INACTIVE", Message: "Indicator is not active", StatusCode: http.StatusBadRequest}
)

// Plan and report errors.
var (
	ErrPlanNotFound    = &AppError{Code: "PLAN_NOT_FOUND", Message: "Annual plan not found", StatusCode: http.StatusNotFound}
	ErrDuplicatePlan   = &AppError{Code: "DUPLICATE_PLAN", Message: "An annual plan already exists for this unit and year", StatusCode: http.StatusBadRequest}
	ErrTargetNotFound  = &AppError{Code: "TARGET_NOT_FOUND", Message: "Plan target not found", StatusCode: http.StatusNotFound}
	ErrDuplicateTarget = &AppError{Code: "DUPLICATE_TARGET", Message: "This indicator already has a target in the plan", StatusCode: http.StatusBadRequest}

	ErrReportNotFound  = &AppError{Code: "REPORT_NOT_FOUND", Message: "Quarterly report not found", StatusCode: http.StatusNotFound}
	ErrDuplicateReport = &AppError{Code: "DUPLICATE_REPORT", Message: "A quarterly report already exists for this unit, year and quarter", StatusCode: http.StatusBadRequest}
	ErrEntryNotFound   = &AppError{Code: "ENTRY_NOT_FOUND", Message: "Report entry not found", StatusCode: http.StatusNotFound}
	ErrDuplicateEntry  = &AppError{Code: "DUPLICATE_ENTRY", Message: "This indicator already has an entry in the report", StatusCode: http.StatusBadRequest}
)

// Workflow errors.
var (
	ErrInvalidTransition = &AppError{Code: "INVALID_TRANSITION", Message: "Invalid status transition", StatusCode: http.StatusBadRequest}
	ErrNotEditable       = &AppError{Code: "NOT_EDITABLE", Message: "Only draft records can be modified", StatusCode: http.StatusBadRequest}
	ErrEmptySubmission   = &AppError{Code: "EMPTY_SUBMISSION", Message: "Cannot submit without at least one line item", StatusCode: http.StatusBadRequest}
)

// Import errors.
var (
	ErrUnsupportedFile   = &AppError{Code: "UNSUPPORTED_FILE", Message: "Unsupported file format, upload .csv or .xlsx", StatusCode: http.StatusBadRequest}
	ErrInvalidImportFile = &AppError{Code: "INVALID_IMPORT_FILE", Message: "Import file could not be read", StatusCode: http.StatusBadRequest}
)
