package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrRateLimited         = errors.New("rate limited")
	ErrExternalService     = errors.New("external service failure")

	ErrInvalidAmount     = fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	ErrInvalidRecurrence = fmt.Errorf("%w: invalid recurrence", ErrInvalidInput)
)

// NotFoundf wraps ErrNotFound with a description of the missing entity.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
