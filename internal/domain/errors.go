package domain

import (
	"errors"
	"fmt"

	"equipres/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("equipment unavailable")

	// ErrConcurrentModification is returned when a versioned update lost the race.
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification", ErrConflict)
)

// ConflictError reports an inventory overlap together with the reservations
// that caused it.
type ConflictError struct {
	Result *models.AvailabilityResult
	// Reason overrides the default message.
	Reason string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Reason != "":
		return "conflict: " + e.Reason
	case e.Result == nil:
		return ErrConflict.Error()
	}
	return fmt.Sprintf("conflict: only %d unit(s) free in the requested interval", e.Result.AvailableQuantity)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Invalid wraps ErrInvalidState with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
