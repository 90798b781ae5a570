package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrExternalCall      = errors.New("external call failed")
	ErrTimeout           = errors.New("timeout")
	ErrRateLimited       = errors.New("rate limited")
	ErrServiceError      = errors.New("service error")
	ErrMalformedResponse = errors.New("malformed analysis response")
	ErrGraphWrite        = errors.New("graph write failed")
	ErrNotFound          = errors.New("not found")
	ErrSessionLocked     = errors.New("session is analyzed and can no longer be edited")
)

// ErrorCategory is the user visible failure category of a pipeline run.
type ErrorCategory string

const (
	CategoryNone               ErrorCategory = ""
	CategoryInvalidInput       ErrorCategory = "InvalidInput"
	CategoryExternalCallFailed ErrorCategory = "ExternalCallFailed"
	CategoryMalformedResponse  ErrorCategory = "MalformedAnalysisResponse"
	CategoryGraphWriteFailed   ErrorCategory = "GraphWriteFailed"
	CategoryCancelled          ErrorCategory = "Cancelled"
	CategoryInternal           ErrorCategory = "Internal"
)

// ExternalCallError wraps an adapter error with one of ErrTimeout,
// ErrRateLimited or ErrServiceError.
func ExternalCallError(reason error, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %w", ErrExternalCall, reason)
	}
	return fmt.Errorf("%w: %w: %w", ErrExternalCall, reason, cause)
}

// CategoryOf maps an error to its failure category. Order matters: a
// cancelled graph write is reported as cancelled.
func CategoryOf(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound):
		return CategoryInvalidInput
	case errors.Is(err, ErrExternalCall):
		return CategoryExternalCallFailed
	case errors.Is(err, ErrMalformedResponse):
		return CategoryMalformedResponse
	case errors.Is(err, ErrGraphWrite):
		return CategoryGraphWriteFailed
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryExternalCallFailed
	}
	return CategoryInternal
}

// IsTransient reports whether an external call error may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
