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

// Is matches errors sharing the same code so cloned sentinels still satisfy errors.Is.
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
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrScoreOutOfRange    = New("SCORE_OUT_OF_RANGE", http.StatusBadRequest, "score out of range")
	ErrScoreNonIntegral   = New("SCORE_NON_INTEGRAL", http.StatusBadRequest, "score must be a whole number")
	ErrInvalidScheme      = New("INVALID_GRADING_SCHEME", http.StatusBadRequest, "invalid grading scheme")
	ErrJobNotFound        = New("JOB_NOT_FOUND", http.StatusNotFound, "computation job not found")
	ErrNoScores           = New("NO_SCORES", http.StatusNotFound, "no scores found for student")
	ErrNoComputedResults  = New("NO_COMPUTED_RESULTS", http.StatusNotFound, "no computed results to publish")
	ErrNoPublishedResults = New("NO_PUBLISHED_RESULTS", http.StatusNotFound, "no published results to unpublish")
	ErrResultsLocked      = New("RESULTS_LOCKED", http.StatusConflict, "results are being computed for this class")
	ErrTransient          = New("TRANSIENT_ERROR", http.StatusServiceUnavailable, "temporarily unavailable")
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

// IsTransient reports whether err is worth retrying. Untyped errors (driver, network)
// are treated as transient; typed client errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Code {
	case ErrTransient.Code, ErrResultsLocked.Code:
		return true
	case ErrInternal.Code:
		return true
	}
	return e.Status >= http.StatusInternalServerError
}
