package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("appointment not found")
	ErrStoreUnavailable = errors.New("appointment store unavailable")
	ErrValidation       = errors.New("validation failed")
)

// ConflictError rejects a booking that collides with an existing appointment.
type ConflictError struct {
	Conflicting Appointment
	// Suggested is the "HH:MM" business-hours alternative on the requested date.
	Suggested string
	// Fallback marks Suggested as the fixed default because no business-hours start was free.
	Fallback bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Not allowed. Appointment conflicts with existing appointment (1-hour buffer).\nSuggested time: %s", e.Suggested)
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
