package waypool_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBlocked            = errors.New("blocked")
	ErrNoConnection       = errors.New("no connection between users")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrQueueFull          = errors.New("queue full")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// IsAuthorization reports whether err belongs to the authorization family.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrBlocked) || errors.Is(err, ErrUnauthorized)
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidInput)
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
