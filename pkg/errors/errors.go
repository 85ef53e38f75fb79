package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Call negotiation and sync taxonomy
	ErrCodeMediaAcquisition ErrorCode = "MEDIA_ACQUISITION_ERROR"
	ErrCodeNegotiation      ErrorCode = "NEGOTIATION_ERROR"
	ErrCodeTransport        ErrorCode = "TRANSPORT_ERROR"
	ErrCodeStaleSignal      ErrorCode = "STALE_SIGNAL_IGNORED"
	ErrCodeCallInProgress   ErrorCode = "CALL_IN_PROGRESS"
	ErrCodeInvalidCallState ErrorCode = "INVALID_CALL_STATE"
	ErrCodeNotConnected     ErrorCode = "NOT_CONNECTED"

	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"

	// Authorization errors
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Not found errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Rate limiting
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message.
// The status code defaults to 500 Internal Server Error.
func New(code ErrorCode, message string) *AppError {
	return NewWithStatus(code, message, http.StatusInternalServerError)
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return WrapWithStatus(code, message, http.StatusInternalServerError, err)
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// MediaAcquisition reports that local capture could not start.
func MediaAcquisition(err error) *AppError {
	return Wrap(ErrCodeMediaAcquisition, "local media capture unavailable", err)
}

// Negotiation reports a session description or candidate failure.
func Negotiation(message string, err error) *AppError {
	return Wrap(ErrCodeNegotiation, message, err)
}

// Transport reports a publish, subscribe or REST failure.
func Transport(message string, err error) *AppError {
	return WrapWithStatus(ErrCodeTransport, message, http.StatusBadGateway, err)
}

// StaleSignal marks a signal that no longer matches the active call. Callers log and drop it.
func StaleSignal(message string) *AppError {
	return New(ErrCodeStaleSignal, message)
}

func CallInProgressError() *AppError {
	return NewWithStatus(ErrCodeCallInProgress, "a call is already active", http.StatusConflict)
}

func InvalidCallStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidCallState, message, http.StatusConflict)
}

func NotConnectedError() *AppError {
	return NewWithStatus(ErrCodeNotConnected, "channel is not connected", http.StatusServiceUnavailable)
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func MissingFieldError(field string) *AppError {
	return NewWithStatus(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func ExpiredTokenError() *AppError {
	return NewWithStatus(ErrCodeExpiredToken, "Token has expired", http.StatusUnauthorized)
}

func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

// ServiceUnavailable wraps a backing-store failure as a 503
func ServiceUnavailable(message string, err error) *AppError {
	return WrapWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable, err)
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return InternalError(err.Error())
}
