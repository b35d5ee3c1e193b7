package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"koma/internal/core/domain"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestCapacityExceeded(t *testing.T) {
	err := NewCapacityExceededError("consult:alice")
	if err.Code != ErrCodeCapacityExceeded {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCapacityExceeded)
	}
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Error("capacity error should wrap ErrRoomFull")
	}
	if !IsRetryable(err) {
		t.Error("capacity error should be retryable")
	}
	if err.Context["room"] != domain.RoomID("consult:alice") {
		t.Errorf("Context[room] = %v", err.Context["room"])
	}
}

func TestNoResponseTimeoutIsTerminal(t *testing.T) {
	err := NewNoResponseTimeoutError(3)
	if IsRetryable(err) {
		t.Error("no response timeout must not be retryable")
	}
	if !errors.Is(err, domain.ErrNoResponse) {
		t.Error("timeout should wrap ErrNoResponse")
	}
	if err.HTTPStatus != 504 {
		t.Errorf("HTTPStatus = %v, want 504", err.HTTPStatus)
	}
}

func TestTransportLostIsRetryable(t *testing.T) {
	err := NewTransportLostError(errors.New("eof"))
	if !IsRetryable(err) {
		t.Error("transport loss should be retryable")
	}
	if !errors.Is(err, domain.ErrTransportLost) {
		t.Error("should wrap ErrTransportLost")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("outer: %w", NewStaleAnswerError(domain.StateStable))
	if result := GetAppError(wrapped); result == nil || result.Code != ErrCodeStaleAnswer {
		t.Errorf("GetAppError() should extract AppError from wrapped error, got %v", result)
	}
	if CodeOf(wrapped) != ErrCodeStaleAnswer {
		t.Errorf("CodeOf() = %v", CodeOf(wrapped))
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
	if CodeOf(errors.New("x")) != ErrCodeInternal {
		t.Error("CodeOf() should default to internal")
	}
}
