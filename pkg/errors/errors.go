package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"embercall/internal/core/domain"
)

// ErrorCode classifies application errors surfaced over the control API.
type ErrorCode string

const (
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeCallAlreadyActive ErrorCode = "CALL_ALREADY_ACTIVE"
	ErrCodeNoPendingCall     ErrorCode = "NO_PENDING_CALL"
	ErrCodeCallNotActive     ErrorCode = "CALL_NOT_ACTIVE"
	ErrCodeMediaAccessDenied ErrorCode = "MEDIA_ACCESS_DENIED"
	ErrCodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeSignalingDown     ErrorCode = "SIGNALING_DISCONNECTED"
	ErrCodeBackendRejected   ErrorCode = "BACKEND_REJECTED"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError carries an error code, an HTTP status for the control surface and
// the underlying cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewRateLimitError() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

// FromDomain maps call-engine sentinel errors onto control API errors.
func FromDomain(err error) *AppError {
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, domain.ErrCallAlreadyActive):
		return Wrap(err, ErrCodeCallAlreadyActive, "a call is already active", http.StatusConflict)
	case stderrors.Is(err, domain.ErrNoPendingCall):
		return Wrap(err, ErrCodeNoPendingCall, "no pending incoming call", http.StatusConflict)
	case stderrors.Is(err, domain.ErrCallNotActive):
		return Wrap(err, ErrCodeCallNotActive, "no active call", http.StatusConflict)
	case stderrors.Is(err, domain.ErrMediaAccessDenied):
		return Wrap(err, ErrCodeMediaAccessDenied, "camera or microphone access denied", http.StatusForbidden)
	case stderrors.Is(err, domain.ErrNegotiationFailed):
		return Wrap(err, ErrCodeNegotiationFailed, "media negotiation failed", http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrSignalingDown):
		return Wrap(err, ErrCodeSignalingDown, "signaling channel disconnected", http.StatusServiceUnavailable)
	default:
		return Wrap(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// GetAppError extracts an AppError from an error chain, nil if none.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
