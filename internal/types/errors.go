package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers and services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidDate    ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidRange   ErrorCode = "validation_invalid_date_range"
	ErrCodeValidationInvalidIntent  ErrorCode = "validation_invalid_intent"
	ErrCodeValidationInvalidSlot    ErrorCode = "validation_invalid_time_slot"
	ErrCodeValidationQuantity       ErrorCode = "validation_invalid_quantity"
	ErrCodeValidationPaymentMethod  ErrorCode = "validation_payment_method_not_allowed"
	ErrCodeValidationInvalidPayload ErrorCode = "validation_invalid_payload"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired ErrorCode = "auth_token_expired"

	// Permission (403)
	ErrCodePermissionRole           ErrorCode = "permission_role_insufficient"
	ErrCodePermissionNotOwner       ErrorCode = "permission_not_owner"
	ErrCodePermissionTenantMismatch ErrorCode = "permission_tenant_mismatch"

	// Limits (403/429)
	ErrCodeLimitQuotaExceeded ErrorCode = "limit_quota_exceeded"
	ErrCodeRateLimit          ErrorCode = "rate_limit_exceeded"

	// Booking outcomes (409/422)
	ErrCodeLessonClosed         ErrorCode = "booking_lesson_closed"
	ErrCodeLessonFull           ErrorCode = "booking_lesson_full"
	ErrCodeLessonNotFull        ErrorCode = "booking_lesson_not_full"
	ErrCodeAmbiguousBooking     ErrorCode = "booking_ambiguous"
	ErrCodeInsufficientCapacity ErrorCode = "booking_insufficient_capacity"
	ErrCodeWrongClassType       ErrorCode = "booking_wrong_class_type"
	ErrCodeInvalidTransition    ErrorCode = "booking_invalid_status_transition"

	// Schedule (422)
	ErrCodeScheduleConflict ErrorCode = "schedule_conflict"

	// Payment (402)
	ErrCodePaymentRequired ErrorCode = "payment_required"

	// Not Found (404)
	ErrCodeNotFoundTenant       ErrorCode = "not_found_tenant"
	ErrCodeNotFoundLesson       ErrorCode = "not_found_lesson"
	ErrCodeNotFoundBooking      ErrorCode = "not_found_booking"
	ErrCodeNotFoundTemplate     ErrorCode = "not_found_template"
	ErrCodeNotFoundClassOption  ErrorCode = "not_found_class_option"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundUser         ErrorCode = "not_found_user"
	ErrCodeNotFoundJob          ErrorCode = "not_found_job"

	// Conflict (409)
	ErrCodeConflictTransient ErrorCode = "conflict_transient_retry"
	ErrCodeConflictJobLocked ErrorCode = "conflict_job_in_progress"

	// Internal/Upstream (500/502/503)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case c == ErrCodeLimitQuotaExceeded:
		return http.StatusForbidden
	case c == ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case c == ErrCodeWrongClassType, c == ErrCodeScheduleConflict:
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(s, "booking_"):
		return http.StatusConflict
	case c == ErrCodePaymentRequired:
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsBusinessOutcome reports whether the code describes an expected rejection
// (closed, full, quota, conflict, ...) rather than a system failure. Business
// outcomes are returned to the caller and never logged as errors.
func (c ErrorCode) IsBusinessOutcome() bool {
	s := string(c)
	return !strings.HasPrefix(s, "internal_") && !strings.HasPrefix(s, "upstream_")
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from err's chain. It returns the empty code
// when err is nil and ErrCodeInternalUnexpected for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
