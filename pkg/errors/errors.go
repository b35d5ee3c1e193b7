package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"koma/internal/core/domain"
)

// ErrorCode identifies an error kind across the hub, the client and the HTTP API.
type ErrorCode string

const (
	// Signaling and negotiation
	ErrCodeCapacityExceeded     ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeNegotiationCollision ErrorCode = "NEGOTIATION_COLLISION"
	ErrCodeStaleAnswer          ErrorCode = "STALE_ANSWER"
	ErrCodeMediaUnavailable     ErrorCode = "MEDIA_UNAVAILABLE"
	ErrCodeTransportLost        ErrorCode = "TRANSPORT_LOST"
	ErrCodeNoResponseTimeout    ErrorCode = "NO_RESPONSE_TIMEOUT"
	ErrCodeMalformedEnvelope    ErrorCode = "MALFORMED_ENVELOPE"

	// HTTP API
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Retryable  bool
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// NewCapacityExceededError is surfaced to a joiner rejected by a full call room.
func NewCapacityExceededError(room domain.RoomID) *AppError {
	e := WrapError(domain.ErrRoomFull, ErrCodeCapacityExceeded, "room is at capacity", http.StatusConflict)
	e.Retryable = true
	return e.WithContext("room", room)
}

func NewNegotiationCollisionError(state domain.NegotiationState) *AppError {
	return WrapError(domain.ErrNegotiationCollide, ErrCodeNegotiationCollision, "remote offer ignored", http.StatusConflict).
		WithContext("state", state.String())
}

func NewStaleAnswerError(state domain.NegotiationState) *AppError {
	return WrapError(domain.ErrStaleAnswer, ErrCodeStaleAnswer, "answer dropped", http.StatusConflict).
		WithContext("state", state.String())
}

func NewMediaUnavailableError(kind string, cause error) *AppError {
	e := WrapError(domain.ErrMediaUnavailable, ErrCodeMediaUnavailable, fmt.Sprintf("%s capture unavailable: %v", kind, cause), http.StatusServiceUnavailable)
	return e.WithContext("kind", kind)
}

func NewTransportLostError(cause error) *AppError {
	e := WrapError(domain.ErrTransportLost, ErrCodeTransportLost, fmt.Sprintf("connection dropped: %v", cause), http.StatusServiceUnavailable)
	e.Retryable = true
	return e
}

// NewNoResponseTimeoutError is terminal: the session has to be restarted.
func NewNoResponseTimeoutError(attempts int) *AppError {
	return WrapError(domain.ErrNoResponse, ErrCodeNoResponseTimeout, "remote peer did not answer", http.StatusGatewayTimeout).
		WithContext("attempts", attempts)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in the chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error chain carries a retryable AppError.
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Retryable
}
