// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Application error taxonomy.
var (
	// Storage errors.
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
	ErrForbidden = errors.New("forbidden")

	// Provider errors.
	ErrAuthExpired = errors.New("provider authentication expired")
	ErrTransient   = errors.New("provider temporarily unavailable")
	ErrRateLimit   = errors.New("rate limit exceeded")

	// Input errors.
	ErrValidation = errors.New("validation failed")

	// Currency conversion errors.
	ErrConversionUnavailable = errors.New("currency conversion unavailable")

	// Sync errors.
	ErrSyncInProgress = errors.New("sync already in progress for this link")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
