// Package apperr defines the error kinds shared by the scheduler, the
// dispatcher and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing entry or missing media at dispatch time.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks an unreachable store or broker.
	ErrTransient = errors.New("transient error")

	// ErrPublish marks a failed call to the publishing endpoint.
	ErrPublish = errors.New("publish error")

	// ErrConflict marks an operation on a job that is already executing.
	ErrConflict = errors.New("conflict")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Transient wraps err as a transient failure, keeping the cause.
func Transient(err error, context string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return fmt.Errorf("%s: %w", context, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, context, err)
}

// Retryable reports whether the broker should redeliver after err.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrPublish)
}

// HTTPStatus maps an error kind to the status code returned by the API.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
