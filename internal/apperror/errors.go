package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for clients
type Kind string

// Error kinds
const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInvalidJSON         Kind = "INVALID_JSON"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindOrderNotFound       Kind = "ORDER_NOT_FOUND"
	KindCancellationDenied  Kind = "CANCELLATION_NOT_ALLOWED"
	KindCancellationExpired Kind = "CANCELLATION_WINDOW_EXPIRED"
	KindInventory           Kind = "INVENTORY_ERROR"
	KindCouponInvalid       Kind = "COUPON_INVALID"
	KindVerificationFailed  Kind = "VERIFICATION_FAILED"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindBackend             Kind = "BACKEND_ERROR"
	KindInternal            Kind = "INTERNAL_SERVER_ERROR"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindInvalidJSON:         http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindVerificationFailed:  http.StatusForbidden,
	KindOrderNotFound:       http.StatusNotFound,
	KindCancellationDenied:  http.StatusConflict,
	KindInventory:           http.StatusConflict,
	KindCancellationExpired: http.StatusGone,
	KindCouponInvalid:       http.StatusUnprocessableEntity,
	KindRateLimited:         http.StatusTooManyRequests,
	KindBackend:             http.StatusBadGateway,
	KindInternal:            http.StatusInternalServerError,
}

// HTTPStatus maps a kind to its response status
func (k Kind) HTTPStatus() int {
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FieldViolation is a single field-level validation failure
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed error flowing from the core to the HTTP boundary
type Error struct {
	Kind       Kind
	Message    string
	Violations []FieldViolation
	// UpstreamStatus is the collaborator's status code for BACKEND_ERROR
	UpstreamStatus int
	// RetryAfterSeconds is set for RATE_LIMITED
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind keeping the cause for diagnostics
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation creates a VALIDATION_ERROR carrying field violations
func Validation(message string, violations ...FieldViolation) *Error {
	return &Error{Kind: KindValidation, Message: message, Violations: violations}
}

// Backend creates a BACKEND_ERROR preserving the collaborator's status
func Backend(status int, message string) *Error {
	return &Error{Kind: KindBackend, Message: message, UpstreamStatus: status}
}

// Internal hides the cause behind a generic user-facing message
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "an unexpected error occurred", Err: err}
}

// As extracts an *Error, classifying anything else as INTERNAL_SERVER_ERROR
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
