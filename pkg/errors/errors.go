package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on Code so that clones and wraps of a predefined error compare equal to it.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrFeatureDisabled    = New("FEATURE_DISABLED", http.StatusNotFound, "feature disabled")

	// ErrInvalidWindow is the configuration error raised when a window is malformed at create/edit time.
	ErrInvalidWindow = New("INVALID_WINDOW_CONFIGURATION", http.StatusBadRequest, "invalid window configuration")
	// ErrCapacityFull rejects an enrollment that would exceed the window capacity.
	ErrCapacityFull = New("CAPACITY_FULL", http.StatusConflict, "no seats available in this window")
	// ErrWindowNotEnrollable covers inactive windows and states other than SCHEDULED.
	ErrWindowNotEnrollable = New("WINDOW_NOT_ENROLLABLE", http.StatusPreconditionFailed, "window is not open for enrollment")
	// ErrAlreadyStarted rejects enrollment mutations once a timed window has begun.
	ErrAlreadyStarted = New("WINDOW_ALREADY_STARTED", http.StatusPreconditionFailed, "window already started")
	// ErrInvalidTransition rejects manual state moves that the lifecycle does not allow.
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "transition not allowed")
	// ErrTransientPersistence marks a failed lifecycle write. It is logged and repaired by the sweep,
	// never returned to an unrelated caller.
	ErrTransientPersistence = New("TRANSIENT_PERSISTENCE", http.StatusServiceUnavailable, "lifecycle write failed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Transient wraps a lifecycle persistence failure.
func Transient(err error, message string) *Error {
	return Wrap(err, ErrTransientPersistence.Code, ErrTransientPersistence.Status, message)
}
