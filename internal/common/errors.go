package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// ErrAccountInactive wraps ErrorUnauthorized so callers that only care
	// about "not allowed in" can match the broader sentinel.
	ErrAccountInactive = fmt.Errorf("account is deactivated: %w", ErrorUnauthorized)

	// OTP errors.
	ErrInvalidOTP  = errors.New("invalid or expired code")
	ErrRateLimited = errors.New("rate limited")

	// Outbound delivery (SMS gateway) failed.
	ErrDeliveryFailed = errors.New("delivery failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrRefreshTokenExpired = fmt.Errorf("refresh token expired: %w", ErrorUnauthorized)
)

// RateLimitError reports a cooldown violation together with the time left
// until the next attempt is allowed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", int(e.RetryAfter.Seconds()))
}

// Is makes errors.Is(err, ErrRateLimited) match any *RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ValidationError carries a human readable reason for rejected input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrorValidation
}

// NewValidationError is a shorthand for &ValidationError{Reason: reason}.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}
